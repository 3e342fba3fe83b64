package collect

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/TobiSchelling/legitcheck/internal/database"
)

// Post is a forum submission as far as the collector cares about it.
type Post struct {
	ID         string
	Title      string
	CreatedUTC time.Time
	URL        string
	IsGallery  bool
	Gallery    []MediaItem
}

// MediaItem is one entry of a gallery's media metadata, in document order.
// OK is false when the entry carries no usable source URL.
type MediaItem struct {
	Index int
	URL   string
	OK    bool
}

// ImageRef is a resolved image URL and its 1-based position in the post.
type ImageRef struct {
	Index int
	URL   string
}

// ImageURLs resolves the images a post carries. Gallery posts yield every
// well-formed media item; other posts yield their link when it points at a
// jpg, jpeg or png file.
func (p Post) ImageURLs() []ImageRef {
	if p.IsGallery {
		var refs []ImageRef
		for _, m := range p.Gallery {
			if !m.OK {
				continue
			}
			refs = append(refs, ImageRef{Index: m.Index, URL: m.URL})
		}
		return refs
	}
	if hasImageSuffix(p.URL) {
		return []ImageRef{{Index: 1, URL: p.URL}}
	}
	return nil
}

func hasImageSuffix(u string) bool {
	for _, suffix := range []string{"jpg", "jpeg", "png"} {
		if strings.HasSuffix(u, suffix) {
			return true
		}
	}
	return false
}

// parsePost reads a listing child's data object.
func parsePost(data gjson.Result) Post {
	p := Post{
		ID:         data.Get("id").String(),
		Title:      data.Get("title").String(),
		CreatedUTC: database.FromUnix(data.Get("created_utc").Float()),
		URL:        data.Get("url").String(),
	}

	meta := data.Get("media_metadata")
	if !meta.IsObject() {
		return p
	}
	p.IsGallery = true

	index := 0
	meta.ForEach(func(_, media gjson.Result) bool {
		index++
		item := MediaItem{Index: index}
		if media.IsObject() {
			if u := media.Get("s.u"); u.Exists() && u.String() != "" {
				item.URL = strings.ReplaceAll(u.String(), "&amp;", "&")
				item.OK = true
			}
		}
		p.Gallery = append(p.Gallery, item)
		return true
	})
	return p
}
