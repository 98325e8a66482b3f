package persona

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderReadsAndCaches(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot_config.toml")
	data := `
[personality]
personality = " 是一个喜欢吐槽的女大学生 "
reply_style = "简短，偶尔阴阳怪气"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	l := NewLoader(path, nil)
	want := "是一个喜欢吐槽的女大学生。说话风格：简短，偶尔阴阳怪气"
	if got := l.Get(); got != want {
		t.Fatalf("Get()=%q, want %q", got, want)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := l.Get(); got != want {
		t.Fatalf("cached Get()=%q, want %q", got, want)
	}
}

func TestLoaderMissingOrInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if got := NewLoader(filepath.Join(dir, "missing.toml"), nil).Get(); got != "" {
		t.Fatalf("missing file: %q", got)
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("[personality\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := NewLoader(bad, nil).Get(); got != "" {
		t.Fatalf("invalid file: %q", got)
	}
}

func TestFormatWithoutStyle(t *testing.T) {
	t.Parallel()

	if got := Format("冷淡", ""); got != "冷淡" {
		t.Fatalf("Format=%q", got)
	}
}
