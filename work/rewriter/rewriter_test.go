package rewriter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteDirect_Scenario(t *testing.T) {
	in := "#EXTM3U\nhttps://cdn.example/a.ts\n#EXT-X-ENDLIST"

	out, n := Rewrite(in, ModeDirect, RewriteContext{})
	assert.Equal(t, "#EXTM3U\n/proxy-stream/https://cdn.example/a.ts\n#EXT-X-ENDLIST", out)
	assert.Equal(t, 1, n)
}

func TestRewriteDirect_Idempotent(t *testing.T) {
	in := "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nhttps://cdn.example/a.ts\n#EXTINF:6.0,\nhttp://cdn.example/b.ts?t=1\n"

	once, _ := Rewrite(in, ModeDirect, RewriteContext{})
	twice, n := Rewrite(once, ModeDirect, RewriteContext{})
	assert.Equal(t, once, twice)
	assert.Zero(t, n)
}

func TestRewriteDirect_LeavesRelativeLines(t *testing.T) {
	in := "#EXTM3U\nseg-1.ts\n/abs/seg-2.ts\n"

	out, n := Rewrite(in, ModeDirect, RewriteContext{})
	assert.Equal(t, in, out)
	assert.Zero(t, n)
}

func TestRewrite_CommentLinesByteIdentical(t *testing.T) {
	in := "#EXTM3U\r\n#EXT-X-KEY:METHOD=AES-128,URI=\"https://keys.example/k\"\r\n\r\n#EXTINF:4.0,title with https://x\r\nhttps://cdn.example/a.ts\r\n"

	for _, mode := range []Mode{ModeDirect, ModeContextAware} {
		out, _ := Rewrite(in, mode, RewriteContext{BaseURL: "https://cdn.example/v/index.m3u8"})

		inLines := strings.Split(in, "\n")
		outLines := strings.Split(out, "\n")
		assert.Len(t, outLines, len(inLines))
		for i, line := range inLines {
			if line == "" || strings.HasPrefix(line, "#") || line == "\r" {
				assert.Equal(t, line, outLines[i], "mode %s line %d", mode, i)
			}
		}
		assert.Equal(t, "/proxy-stream/https://cdn.example/a.ts\r", outLines[4])
	}
}

func TestRewriteContextAware_Resolution(t *testing.T) {
	base := RewriteContext{BaseURL: "https://cdn.example/hls/720/index.m3u8?token=abc"}

	tests := []struct {
		name string
		line string
		want string
	}{
		{"absolute", "https://other.example/x/seg.ts", "/proxy-stream/https://other.example/x/seg.ts"},
		{"root relative", "/keys/seg1.ts", "/proxy-stream/https://cdn.example/keys/seg1.ts"},
		{"relative", "seg1.ts?x=1", "/proxy-stream/https://cdn.example/hls/720/seg1.ts?x=1"},
		{"relative subdir", "audio/en/track.aac", "/proxy-stream/https://cdn.example/hls/720/audio/en/track.aac"},
		{"protocol relative", "//edge.example/seg.m4s", "/proxy-stream/https://edge.example/seg.m4s"},
		{"uppercase extension", "thumb.JPG", "/proxy-stream/https://cdn.example/hls/720/thumb.JPG"},
		{"sub manifest", "../1080/index.m3u8", "/proxy-stream/https://cdn.example/hls/720/../1080/index.m3u8"},
		{"unknown extension", "seg1.bin", "seg1.bin"},
		{"malformed", "%zz.ts", "%zz.ts"},
		{"already proxied", "/proxy-stream/https://cdn.example/a.ts", "/proxy-stream/https://cdn.example/a.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _ := Rewrite(tt.line, ModeContextAware, base)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRewriteContextAware_RootManifest(t *testing.T) {
	out, n := Rewrite("seg.ts", ModeContextAware, RewriteContext{BaseURL: "https://cdn.example/index.m3u8"})
	assert.Equal(t, "/proxy-stream/https://cdn.example/seg.ts", out)
	assert.Equal(t, 1, n)
}

func TestRewriteContextAware_NoBaseKeepsRelative(t *testing.T) {
	in := "seg.ts\nhttps://cdn.example/a.ts"

	out, n := Rewrite(in, ModeContextAware, RewriteContext{BaseURL: "not a url"})
	assert.Equal(t, "seg.ts\n/proxy-stream/https://cdn.example/a.ts", out)
	assert.Equal(t, 1, n)
}

func TestRewriteContextAware_Idempotent(t *testing.T) {
	in := "#EXTM3U\n#EXTINF:6.0,\nseg1.ts\n#EXTINF:6.0,\n/root/seg2.ts\n"
	rc := RewriteContext{BaseURL: "https://embed.su/api/proxy/viper/cdn.example/file2/index.m3u8"}

	once, n := Rewrite(in, ModeContextAware, rc)
	assert.Equal(t, 2, n)
	assert.Contains(t, once, "/proxy-stream/https://embed.su/api/proxy/viper/cdn.example/file2/seg1.ts")
	assert.Contains(t, once, "/proxy-stream/https://embed.su/root/seg2.ts")

	twice, _ := Rewrite(once, ModeContextAware, rc)
	assert.Equal(t, once, twice)
}

func TestInspect(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720\n720/index.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=2560000,RESOLUTION=1920x1080\n1080/index.m3u8\n"
	info := Inspect(master)
	assert.Equal(t, "master", info.Kind)
	assert.Equal(t, 2, info.Variants)

	media := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:0\n#EXTINF:6.0,\na.ts\n#EXTINF:6.0,\nb.ts\n#EXT-X-ENDLIST\n"
	info = Inspect(media)
	assert.Equal(t, "media", info.Kind)
	assert.Equal(t, 2, info.Segments)

	assert.Equal(t, "unknown", Inspect("<html>not a playlist</html>").Kind)
}
