package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"danmu/internal/danmaku"
)

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Payload builds a comment set whose XML serialization is at least size bytes.
// A size <= 0 yields a single comment.
func Payload(t testing.TB, size int) *danmaku.Payload {
	t.Helper()

	payload := &danmaku.Payload{ChatServer: "test", ChatID: 1}
	for i := 0; ; i++ {
		payload.Comments = append(payload.Comments, danmaku.Comment{
			Progress:  i * 1000,
			CreatedAt: 1700000000,
			MidHash:   "t",
			ID:        int64(i),
			Content:   fmt.Sprintf("comment %d", i),
		})
		data, err := payload.MarshalXML()
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		if len(data) >= size {
			return payload
		}
	}
}
