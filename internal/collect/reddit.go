package collect

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/legitcheck/internal/config"
)

const (
	pageSize         = 100
	moreChildrenMax  = 100
	tokenExpirySlack = 30 * time.Second
)

// RedditClient reads submissions and comment trees from the Reddit API.
// With app credentials it uses OAuth2 client credentials against the
// oauth host; without them it falls back to the public .json endpoints.
type RedditClient struct {
	subreddit    string
	userAgent    string
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	client       *http.Client
	limiter      *rate.Limiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewRedditClient creates a client from the reddit config section.
// Credentials are read from the environment variables it names.
func NewRedditClient(cfg config.Reddit) *RedditClient {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	c := &RedditClient{
		subreddit:    cfg.Subreddit,
		userAgent:    cfg.UserAgent,
		tokenURL:     cfg.TokenURL,
		clientID:     os.Getenv(cfg.ClientIDEnv),
		clientSecret: os.Getenv(cfg.ClientSecretEnv),
		client:       &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
	if c.IsAuthenticated() {
		c.baseURL = strings.TrimRight(cfg.APIURL, "/")
	} else {
		c.baseURL = strings.TrimRight(cfg.PublicURL, "/")
	}
	return c
}

// IsAuthenticated reports whether app credentials are available.
func (c *RedditClient) IsAuthenticated() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// Posts pages through /r/<sub>/new, newest first, until the listing ends.
// Pages are fetched lazily as the caller consumes posts.
func (c *RedditClient) Posts(ctx context.Context) iter.Seq2[Post, error] {
	return func(yield func(Post, error) bool) {
		after := ""
		for {
			params := url.Values{"limit": {fmt.Sprint(pageSize)}}
			if after != "" {
				params.Set("after", after)
			}
			listing, err := c.get(ctx, "/r/"+c.subreddit+"/new", params)
			if err != nil {
				yield(Post{}, fmt.Errorf("listing /r/%s/new: %w", c.subreddit, err))
				return
			}

			for _, child := range listing.Get("data.children").Array() {
				if child.Get("kind").String() != "t3" {
					continue
				}
				if !yield(parsePost(child.Get("data")), nil) {
					return
				}
			}

			after = listing.Get("data.after").String()
			if after == "" {
				return
			}
		}
	}
}

// Post fetches a single submission by ID.
func (c *RedditClient) Post(ctx context.Context, id string) (Post, error) {
	listing, err := c.get(ctx, "/by_id/t3_"+id, nil)
	if err != nil {
		return Post{}, fmt.Errorf("fetching post %s: %w", id, err)
	}
	data := listing.Get("data.children.0.data")
	if !data.Exists() {
		return Post{}, fmt.Errorf("post %s not found", id)
	}
	return parsePost(data), nil
}

// Comments returns the body of every comment under a post, with all
// "load more" and "continue this thread" stubs expanded, in breadth-first
// order.
func (c *RedditClient) Comments(ctx context.Context, postID string) ([]string, error) {
	resp, err := c.get(ctx, "/comments/"+postID, url.Values{"limit": {"500"}})
	if err != nil {
		return nil, fmt.Errorf("fetching comments for %s: %w", postID, err)
	}

	queue := resp.Get("1.data.children").Array()
	seen := make(map[string]struct{})
	var bodies []string

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		data := node.Get("data")

		switch node.Get("kind").String() {
		case "t1":
			name := data.Get("name").String()
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			bodies = append(bodies, data.Get("body").String())
			if replies := data.Get("replies"); replies.IsObject() {
				queue = append(queue, replies.Get("data.children").Array()...)
			}

		case "more":
			children := stringArray(data.Get("children"))
			var expanded []gjson.Result
			if len(children) == 0 {
				expanded, err = c.continueThread(ctx, postID, data.Get("parent_id").String())
			} else {
				expanded, err = c.moreChildren(ctx, postID, children)
			}
			if err != nil {
				return bodies, err
			}
			queue = append(queue, expanded...)
		}
	}
	return bodies, nil
}

// moreChildren resolves a "load more comments" stub. The API accepts at
// most moreChildrenMax IDs per call and returns the comments flattened.
func (c *RedditClient) moreChildren(ctx context.Context, postID string, ids []string) ([]gjson.Result, error) {
	var things []gjson.Result
	for start := 0; start < len(ids); start += moreChildrenMax {
		end := min(start+moreChildrenMax, len(ids))
		params := url.Values{
			"link_id":  {"t3_" + postID},
			"children": {strings.Join(ids[start:end], ",")},
			"api_type": {"json"},
		}
		resp, err := c.get(ctx, "/api/morechildren", params)
		if err != nil {
			return nil, fmt.Errorf("expanding comments of %s: %w", postID, err)
		}
		things = append(things, resp.Get("json.data.things").Array()...)
	}
	return things, nil
}

// continueThread resolves a "continue this thread" stub, which carries no
// child IDs. The thread is reloaded rooted at the parent comment; the
// parent itself was already collected so only its replies are returned.
func (c *RedditClient) continueThread(ctx context.Context, postID, parentName string) ([]gjson.Result, error) {
	parentID := strings.TrimPrefix(parentName, "t1_")
	if parentID == "" || parentID == parentName {
		return nil, nil
	}
	resp, err := c.get(ctx, "/comments/"+postID+"/_/"+parentID, nil)
	if err != nil {
		return nil, fmt.Errorf("continuing thread %s: %w", parentID, err)
	}
	parent := resp.Get("1.data.children.0.data")
	return parent.Get("replies.data.children").Array(), nil
}

func (c *RedditClient) get(ctx context.Context, path string, params url.Values) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}

	if !c.IsAuthenticated() {
		path += ".json"
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("raw_json", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	if c.IsAuthenticated() {
		token, err := c.accessToken(ctx)
		if err != nil {
			return gjson.Result{}, err
		}
		req.Header.Set("Authorization", "bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("HTTP %d from %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("invalid JSON from %s", path)
	}
	return gjson.ParseBytes(body), nil
}

// accessToken returns a cached application-only token, refreshing it
// shortly before it expires.
func (c *RedditClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting access token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("access token: HTTP %d", resp.StatusCode)
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return "", fmt.Errorf("access token missing from response")
	}
	expiresIn := time.Duration(gjson.GetBytes(body, "expires_in").Int()) * time.Second
	c.token = token
	c.tokenExpiry = time.Now().Add(expiresIn - tokenExpirySlack)
	log.Printf("Obtained Reddit access token (expires in %s)", expiresIn)
	return c.token, nil
}

func stringArray(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
