package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testCorpus = `{
  "model": "nomic-embed-text",
  "dimension": 3,
  "chunks": [
    {
      "id": "c1",
      "title": "Spaces",
      "source_url": "https://openbis.readthedocs.io/spaces",
      "text": "Spaces group projects and control access in openBIS.",
      "embedding": [1, 0, 0]
    },
    {
      "id": "c2",
      "title": "Samples",
      "text": "Samples are the objects experiments are run on.",
      "embedding": [0, 1, 0]
    }
  ]
}`

// setTestEnv points the configuration at a throwaway corpus and database.
func setTestEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "corpus.json")
	if err := os.WriteFile(corpusPath, []byte(testCorpus), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	t.Setenv("CHATBIS_CORPUS_PATH", corpusPath)
	t.Setenv("CHATBIS_DATABASE_PATH", filepath.Join(dir, "chatbis.db"))
	t.Setenv("CHATBIS_LOG_LEVEL", "error")
}

func runCommand(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	root := Root()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute %v: %v", args, err)
	}
	return buf.String()
}

func TestVersionCmd(t *testing.T) {
	out := runCommand(t, "", "version")
	if !strings.Contains(out, "chatBIS") {
		t.Errorf("output = %q, want it to name chatBIS", out)
	}
}

func TestAskCmd(t *testing.T) {
	setTestEnv(t)

	out := runCommand(t, "", "ask", "What is a space in openBIS?")
	if !strings.Contains(out, "Spaces group projects") {
		t.Errorf("output = %q, want the documentation text", out)
	}
	if !strings.Contains(out, "Sources:") {
		t.Errorf("output = %q, want a sources list", out)
	}
	if !strings.Contains(out, "https://openbis.readthedocs.io/spaces") {
		t.Errorf("output = %q, want the source url", out)
	}
}

func TestChatCmd_ConversationAndCommands(t *testing.T) {
	setTestEnv(t)

	stdin := "What is a space in openBIS?\n/clear\n/quit\n"
	out := runCommand(t, stdin, "chat")

	if !strings.Contains(out, "chatBIS>") {
		t.Errorf("output = %q, want an assistant reply", out)
	}
	if !strings.Contains(out, "Started over.") {
		t.Errorf("output = %q, want the /clear acknowledgement", out)
	}
	if !strings.Contains(out, "Bye.") {
		t.Errorf("output = %q, want the /quit farewell", out)
	}
}

func TestChatCmd_EOFEndsSession(t *testing.T) {
	setTestEnv(t)

	out := runCommand(t, "", "chat")
	if !strings.Contains(out, "you> ") {
		t.Errorf("output = %q, want at least one prompt", out)
	}
}
