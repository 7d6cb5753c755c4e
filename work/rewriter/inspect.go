package rewriter

import (
	"strings"

	"github.com/grafov/m3u8"
)

// Info summarises a manifest for logs and metrics.
type Info struct {
	Kind     string // master, media or unknown
	Variants int
	Segments int
}

// Inspect decodes text leniently and reports what kind of playlist it is.
// It never influences the rewritten output.
func Inspect(text string) Info {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil || playlist == nil {
		return Info{Kind: "unknown"}
	}

	switch listType {
	case m3u8.MASTER:
		master, ok := playlist.(*m3u8.MasterPlaylist)
		if !ok {
			break
		}
		return Info{Kind: "master", Variants: len(master.Variants)}
	case m3u8.MEDIA:
		media, ok := playlist.(*m3u8.MediaPlaylist)
		if !ok {
			break
		}
		info := Info{Kind: "media"}
		for _, seg := range media.Segments {
			if seg != nil {
				info.Segments++
			}
		}
		return info
	}

	return Info{Kind: "unknown"}
}
