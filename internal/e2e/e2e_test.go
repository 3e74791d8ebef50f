//go:build !windows

package e2e

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"brokerd/pkg/types"
)

func TestStatusReportsFakeCLI(t *testing.T) {
	srv := newServer(t, writeFakeCLI(t), "http://unused.invalid")

	resp, body := httpGet(t, srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Installed || st.Version != "fake-cli 9.9.9" {
		t.Fatalf("install status = %+v", st)
	}
	if !st.Authenticated || st.Account != "e2e@example.com" {
		t.Fatalf("auth status = %+v", st)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	srv := newServer(t, writeFakeCLI(t), "http://unused.invalid")

	resp, body := httpPostJSON(t, srv.URL+"/v1/query", `{"prompt":"hello from e2e"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var qr types.QueryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !qr.Success || qr.Content != "echo: hello from e2e" {
		t.Fatalf("response = %+v", qr)
	}
}

func TestQueryImageRoundTrip(t *testing.T) {
	srv := newServer(t, writeFakeCLI(t), "http://unused.invalid")

	img := base64.StdEncoding.EncodeToString([]byte("not really a png"))
	resp, body := httpPostJSON(t, srv.URL+"/v1/query-image",
		`{"prompt":"describe","image_base64":"`+img+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var qr types.QueryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The fake CLI exits non-zero if the --image path does not exist, so a
	// success here proves the artifact was on disk while the process ran.
	if !qr.Success || qr.Content != "echo: describe" {
		t.Fatalf("response = %+v", qr)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	srv := newServer(t, writeFakeCLI(t), "http://unused.invalid")

	resp, body := httpPostJSON(t, srv.URL+"/v1/stream", `{"prompt":"streamed"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var sawStart, sawDone bool
	var content string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad ndjson line %q: %v", sc.Text(), err)
		}
		switch m["type"] {
		case "start":
			sawStart = true
		case "chunk":
			content += m["text"].(string)
		case "done":
			sawDone = true
			if m["success"] != true {
				t.Fatalf("done line = %v", m)
			}
		}
	}
	if !sawStart || !sawDone {
		t.Fatalf("incomplete stream: %s", body)
	}
	if content != "echo: streamed" {
		t.Fatalf("streamed content = %q", content)
	}
}

func TestChatFallsBackWhenCLIIsMissing(t *testing.T) {
	remoteSrv := newRemoteStub(t, "remote says hi")
	srv := newServer(t, "/nonexistent/no-such-cli", remoteSrv.URL)

	resp, body := httpPostJSON(t, srv.URL+"/v1/chat", `{"message":"anyone there"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var fr types.FeatureResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fr.ViaCLI || fr.Content != "remote says hi" {
		t.Fatalf("response = %+v", fr)
	}
}

func TestQueryFailsFastWhenCLIIsMissing(t *testing.T) {
	srv := newServer(t, "/nonexistent/no-such-cli", "http://unused.invalid")

	resp, body := httpPostJSON(t, srv.URL+"/v1/query", `{"prompt":"hi"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var qr types.QueryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if qr.ErrorKind != "not_installed" {
		t.Fatalf("response = %+v", qr)
	}
}
