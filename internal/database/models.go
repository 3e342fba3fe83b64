package database

// Post statuses.
const (
	StatusRetained  = "retained"
	StatusDiscarded = "discarded"
)

// CollectionRun is one invocation of the collector.
type CollectionRun struct {
	ID               string
	Subreddit        string
	StartedAt        *string
	FinishedAt       *string
	RealCount        int
	FakeCount        int
	UncertainCount   int
	PostsProcessed   int
	PostsDiscarded   int
	ImagesDownloaded int
}

// Post is a processed forum post and the verdict its comments produced.
type Post struct {
	ID             string
	RunID          *string
	Title          string
	CreatedUTC     string
	Classification string // "Real", "Fake" or "Uncertain"
	RealMatches    int
	FakeMatches    int
	CommentCount   int
	DatasetSplit   *string
	Status         string
	ProcessedAt    *string
}

// Image is a retained image file and where it ended up.
type Image struct {
	ID             int64
	PostID         string
	RunID          *string
	URL            string
	Path           string
	Classification string
	DatasetSplit   string
	PostTimestamp  string
}

// TrainingRun is one invocation of the trainer.
type TrainingRun struct {
	ID          string
	StartedAt   *string
	FinishedAt  *string
	Epochs      int
	BestValLoss *float64
	BestEpoch   *int
	Checkpoint  string
}

// Epoch holds the loss and accuracy of one phase of one epoch.
type Epoch struct {
	RunID    string
	Epoch    int
	Phase    string // "train" or "val"
	Loss     float64
	Accuracy float64
	Saved    bool
}

// Evaluation is a test-set evaluation of a checkpoint.
type Evaluation struct {
	ID             int64
	RunID          *string
	Checkpoint     string
	Total          int
	Accuracy       float64
	Precision      float64
	Recall         float64
	F1             float64
	Confusion      [][]int
	ReportMarkdown *string
	CreatedAt      *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	CollectionRuns int
	PostsProcessed int
	PostsRetained  int
	PostsDiscarded int
	RealPosts      int
	FakePosts      int
	UncertainPosts int
	Images         int
	TrainingRuns   int
	Evaluations    int
}
