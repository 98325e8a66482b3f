package llm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitSystem(t *testing.T) {
	t.Parallel()

	system, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleAssistant, Content: "hello"},
	})
	if system != "be brief\n\nbe kind" {
		t.Fatalf("system=%q", system)
	}
	want := []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}}
	if diff := cmp.Diff(want, rest); diff != "" {
		t.Fatalf("rest mismatch (-want +got):\n%s", diff)
	}
}
