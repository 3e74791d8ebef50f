package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"brokerd/internal/broker"
	"brokerd/internal/feature"
	"brokerd/internal/httpapi"
	"brokerd/internal/remote"
)

// fakeCLIScript behaves like the real CLI for the slice of its surface the
// broker touches: version probe, auth probe, and prompt execution in both
// output formats. The prompt is echoed back so tests can assert it made the
// round trip through stdin.
const fakeCLIScript = `#!/bin/sh
case "$1" in
--version)
	echo "fake-cli 9.9.9"
	exit 0
	;;
auth)
	echo "Logged in as e2e@example.com"
	exit 0
	;;
esac
prompt=$(cat)
format=text
while [ $# -gt 0 ]; do
	case "$1" in
	--output-format)
		format="$2"
		shift
		;;
	--image)
		if [ ! -f "$2" ]; then
			echo "image file missing: $2" >&2
			exit 1
		fi
		shift
		;;
	esac
	shift
done
if [ "$format" = "json" ]; then
	printf '{"content":"echo: %s","model":"fake","is_error":false}' "$prompt"
else
	printf 'echo: %s' "$prompt"
fi
`

// writeFakeCLI installs the fake CLI into a temp dir and returns its path.
func writeFakeCLI(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	if err := os.WriteFile(path, []byte(fakeCLIScript), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

// newRemoteStub serves the messages API shape with a fixed reply.
func newRemoteStub(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": reply}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

const remoteKeyEnv = "BROKERD_E2E_API_KEY"

// newServer wires a real broker, remote client and router around the given
// CLI binary and returns the running HTTP server.
func newServer(t *testing.T, bin, remoteURL string, mutate ...func(*broker.Config)) *httptest.Server {
	t.Helper()
	t.Setenv(remoteKeyEnv, "sk-e2e")
	cfg := broker.Config{Bin: bin, ArtifactDir: t.TempDir()}
	for _, m := range mutate {
		m(&cfg)
	}
	b := broker.New(cfg)
	t.Cleanup(b.Shutdown)
	rc := remote.New(remoteURL, "e2e-model", remoteKeyEnv, 256)
	feats := feature.New(b, rc, zerolog.Nop())
	srv := httptest.NewServer(httpapi.NewMux(b, feats))
	t.Cleanup(srv.Close)
	return srv
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader([]byte(payload)))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
