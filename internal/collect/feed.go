package collect

import (
	"context"
	"fmt"
	"iter"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
)

var commentsPathRe = regexp.MustCompile(`/comments/([a-z0-9]+)`)

// FeedSource lists new submissions from the subreddit's Atom feed and
// hydrates each entry through the API client, which also serves comments.
type FeedSource struct {
	feedURL string
	client  *RedditClient
	parser  *gofeed.Parser
	http    *http.Client
}

// NewFeedSource creates a feed-backed source for the client's subreddit.
func NewFeedSource(publicURL string, client *RedditClient) *FeedSource {
	return &FeedSource{
		feedURL: strings.TrimRight(publicURL, "/") + "/r/" + client.subreddit + "/new/.rss",
		client:  client,
		parser:  gofeed.NewParser(),
		http:    client.client,
	}
}

// Posts pages through the feed with the after cursor until an empty page.
func (s *FeedSource) Posts(ctx context.Context) iter.Seq2[Post, error] {
	return func(yield func(Post, error) bool) {
		after := ""
		for {
			feed, err := s.fetch(ctx, after)
			if err != nil {
				yield(Post{}, err)
				return
			}

			prev := after
			for _, item := range feed.Items {
				id := postIDFromItem(item)
				if id == "" {
					continue
				}
				after = "t3_" + id

				post, err := s.client.Post(ctx, id)
				if err != nil {
					log.Printf("[ERROR] Failed to load feed entry %s: %v", id, err)
					continue
				}
				if !yield(post, nil) {
					return
				}
			}
			if after == prev {
				return
			}
		}
	}
}

// Comments delegates to the API client.
func (s *FeedSource) Comments(ctx context.Context, postID string) ([]string, error) {
	return s.client.Comments(ctx, postID)
}

func (s *FeedSource) fetch(ctx context.Context, after string) (*gofeed.Feed, error) {
	if err := s.client.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{"limit": {fmt.Sprint(pageSize)}}
	if after != "" {
		params.Set("after", after)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.client.userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching feed: HTTP %d", resp.StatusCode)
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return feed, nil
}

// postIDFromItem extracts the submission ID from the entry's GUID
// ("t3_<id>") or, failing that, from its permalink.
func postIDFromItem(item *gofeed.Item) string {
	if id, ok := strings.CutPrefix(item.GUID, "t3_"); ok && id != "" {
		return id
	}
	if m := commentsPathRe.FindStringSubmatch(item.Link); m != nil {
		return m[1]
	}
	return ""
}
