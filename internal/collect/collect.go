package collect

import (
	"context"
	"fmt"
	"iter"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/rs/xid"

	"github.com/TobiSchelling/legitcheck/internal/config"
	"github.com/TobiSchelling/legitcheck/internal/database"
	"github.com/TobiSchelling/legitcheck/internal/triage"
)

// Source is a forum that lists submissions newest first and serves their
// comment trees.
type Source interface {
	Posts(ctx context.Context) iter.Seq2[Post, error]
	Comments(ctx context.Context, postID string) ([]string, error)
}

// Downloader saves one image and returns the path it was written to.
type Downloader interface {
	Download(ctx context.Context, imageURL, postID string, seq int) (string, error)
}

// Collector walks a source and builds the labelled image dataset.
type Collector struct {
	db        *database.DB
	src       Source
	dl        Downloader
	matcher   *triage.Matcher
	quota     Quota
	weights   config.SplitWeights
	root      string
	subreddit string
	deferred  bool
	skipSeen  bool
	rng       *rand.Rand
}

type staged struct {
	url  string
	path string
}

// NewCollector creates a collector writing into cfg's dataset root.
func NewCollector(cfg *config.Config, db *database.DB, src Source, dl Downloader) *Collector {
	cc := cfg.Collector

	realKW, fakeKW := triage.RealKeywords, triage.FakeKeywords
	if len(cc.RealKeywords) > 0 {
		realKW = cc.RealKeywords
	}
	if len(cc.FakeKeywords) > 0 {
		fakeKW = cc.FakeKeywords
	}

	seed1, seed2 := uint64(cc.Seed), uint64(cc.Seed)
	if cc.Seed == 0 {
		seed1, seed2 = rand.Uint64(), rand.Uint64()
	}

	return &Collector{
		db:        db,
		src:       src,
		dl:        dl,
		matcher:   triage.NewMatcher(realKW, fakeKW),
		quota:     Quota{Real: cc.MaxReal, Fake: cc.MaxFake, Uncertain: cc.MaxUncertain},
		weights:   cc.SplitWeights,
		root:      cfg.DatasetRoot(),
		subreddit: cfg.Reddit.Subreddit,
		deferred:  cc.DeferDownloads,
		skipSeen:  cc.SkipSeen,
		rng:       rand.New(rand.NewPCG(seed1, seed2)),
	}
}

// Root returns the dataset root the collector writes into.
func (c *Collector) Root() string {
	return c.root
}

// Collect processes posts until every quota is met, the source runs dry or
// ctx is cancelled. The dataset log is written in every case.
func (c *Collector) Collect(ctx context.Context) (*Run, error) {
	if err := EnsureLayout(c.root); err != nil {
		return nil, err
	}

	run := newRun(xid.New().String())
	if err := c.db.InsertCollectionRun(run.ID, c.subreddit); err != nil {
		return nil, fmt.Errorf("recording collection run: %w", err)
	}

	var listErr error
	if run.Full(c.quota) {
		log.Println("[INFO] Reached maximum limits for all categories. Stopping.")
	} else {
		for post, err := range c.src.Posts(ctx) {
			if err != nil {
				listErr = err
				break
			}
			if ctx.Err() != nil {
				break
			}
			c.processPost(ctx, run, post)

			if run.Full(c.quota) {
				log.Println("[INFO] Reached maximum limits for all categories. Stopping.")
				break
			}
		}
	}

	if ctx.Err() != nil {
		log.Println("[INFO] Collection interrupted, saving progress")
		listErr = nil
	} else if listErr != nil {
		log.Printf("[ERROR] Listing posts failed: %v", listErr)
	}

	if err := WriteLog(c.root, run.Log); err != nil {
		return run, err
	}

	err := c.db.FinishCollectionRun(database.CollectionRun{
		ID:               run.ID,
		RealCount:        run.Counts.Real,
		FakeCount:        run.Counts.Fake,
		UncertainCount:   run.Counts.Uncertain,
		PostsProcessed:   run.Processed,
		PostsDiscarded:   run.Discarded,
		ImagesDownloaded: run.ImagesDownloaded,
	})
	if err != nil {
		log.Printf("Error recording collection run: %v", err)
	}

	log.Printf("[DONE] Real: %d, Fake: %d, Uncertain: %d. Total images downloaded: %d.",
		run.Counts.Real, run.Counts.Fake, run.Counts.Uncertain, run.ImagesDownloaded)
	log.Printf("[INFO] Logs saved to %s and %s",
		filepath.Join(c.root, LogJSON), filepath.Join(c.root, LogCSV))

	if listErr != nil {
		return run, fmt.Errorf("listing posts: %w", listErr)
	}
	return run, nil
}

func (c *Collector) processPost(ctx context.Context, run *Run, post Post) {
	log.Printf("[PROCESSING] Post: %s", post.Title)

	if c.skipSeen {
		seen, err := c.db.HasRetainedPost(post.ID)
		if err != nil {
			log.Printf("Error checking ledger for post %s: %v", post.ID, err)
		} else if seen {
			log.Printf("[SKIPPED] Post %s was collected by an earlier run", post.ID)
			run.Skipped++
			return
		}
	}

	for _, m := range post.Gallery {
		if !m.OK {
			log.Printf("[WARNING] Skipping media %d in post '%s' due to missing source URL.", m.Index, post.Title)
		}
	}
	refs := post.ImageURLs()

	var images []staged
	if !c.deferred {
		images = c.download(ctx, run, post, refs)
	}

	comments, err := c.src.Comments(ctx, post.ID)
	if err != nil {
		log.Printf("[ERROR] Failed to load comments for post '%s': %v", post.Title, err)
		removeStaged(images)
		return
	}

	result := c.matcher.Classify(comments)
	log.Printf("[INFO] Real count: %d, Fake count: %d", result.RealMatches, result.FakeMatches)
	log.Printf("[INFO] Total comments analysed: %d", result.Comments)
	run.Processed++

	record := database.Post{
		ID:             post.ID,
		RunID:          &run.ID,
		Title:          post.Title,
		CreatedUTC:     database.FormatTimestamp(post.CreatedUTC),
		Classification: string(result.Verdict),
		RealMatches:    result.RealMatches,
		FakeMatches:    result.FakeMatches,
		CommentCount:   result.Comments,
	}

	if run.Reached(result.Verdict, c.quota) {
		removeStaged(images)
		log.Printf("[INFO] %s max reached. Images for post '%s' removed.", result.Verdict, post.Title)
		run.Discarded++
		record.Status = database.StatusDiscarded
		c.recordPost(record)
		return
	}

	split := drawSplit(c.rng, c.weights)
	dir := filepath.Join(c.root, split, string(result.Verdict))
	if result.Verdict == triage.Uncertain {
		log.Printf("[SKIPPED] Uncertain classification for post: %s", post.Title)
		dir = filepath.Join(c.root, TestDataDir)
	}

	if c.deferred {
		images = c.download(ctx, run, post, refs)
	}

	record.Status = database.StatusRetained
	record.DatasetSplit = &split
	c.recordPost(record)

	for _, img := range images {
		dest := filepath.Join(dir, filepath.Base(img.path))
		if err := moveFile(img.path, dest); err != nil {
			log.Printf("[ERROR] Failed to move %s: %v", img.path, err)
			os.Remove(img.path)
			continue
		}
		run.Log = append(run.Log, LogEntry{
			PostID:         post.ID,
			ImageURL:       img.url,
			Classification: string(result.Verdict),
			Timestamp:      record.CreatedUTC,
			DatasetSplit:   split,
		})
		_, err := c.db.InsertImage(database.Image{
			PostID:         post.ID,
			RunID:          &run.ID,
			URL:            img.url,
			Path:           dest,
			Classification: string(result.Verdict),
			DatasetSplit:   split,
			PostTimestamp:  record.CreatedUTC,
		})
		if err != nil {
			log.Printf("Error recording image %s: %v", dest, err)
		}
	}

	run.retain(result.Verdict)
	if result.Verdict != triage.Uncertain {
		log.Printf("[CLASSIFIED] Post classified as %s", result.Verdict)
	}
}

func (c *Collector) download(ctx context.Context, run *Run, post Post, refs []ImageRef) []staged {
	var images []staged
	for _, ref := range refs {
		p, err := c.dl.Download(ctx, ref.URL, post.ID, ref.Index)
		if err != nil {
			log.Printf("[ERROR] Failed to download image: %s (%v)", ref.URL, err)
			continue
		}
		log.Printf("[DOWNLOADED] %s", p)
		run.ImagesDownloaded++
		images = append(images, staged{url: ref.URL, path: p})
	}
	return images
}

func (c *Collector) recordPost(p database.Post) {
	if _, err := c.db.InsertPost(p); err != nil {
		log.Printf("Error recording post %s: %v", p.ID, err)
	}
}

func removeStaged(images []staged) {
	for _, img := range images {
		if err := os.Remove(img.path); err != nil && !os.IsNotExist(err) {
			log.Printf("[ERROR] Failed to remove %s: %v", img.path, err)
		}
	}
}
