package stream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// run executes a GET against url on a fresh transport and drives x the way
// the client executor does.
func run(t *testing.T, url string, cfg Config) *Exchange {
	t.Helper()

	tr := &http.Transport{DisableCompression: true}
	t.Cleanup(tr.CloseIdleConnections)

	x, ctx := New(t.Context(), cfg)
	go func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			x.Finish(err)
			return
		}
		resp, err := tr.RoundTrip(req)
		if err != nil {
			x.Finish(&TransportError{Op: "round trip", Err: err})
			return
		}
		x.Finish(x.Deliver(ctx, resp))
	}()

	return x
}

// pacedHandler writes each chunk, flushes, and waits for next before
// writing the following one.
func pacedHandler(chunks []string, next <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for i, c := range chunks {
			_, _ = io.WriteString(w, c)
			_ = http.NewResponseController(w).Flush()
			if i == len(chunks)-1 {
				return
			}
			select {
			case <-next:
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Second):
				return
			}
		}
	}
}

func TestChunks_InArrivalOrder(t *testing.T) {
	exp := []string{"alpha-", "bravo-", "charlie-", "delta-", "echo"}
	next := make(chan struct{}, len(exp))

	srv := httptest.NewServer(pacedHandler(exp, next))
	defer srv.Close()

	x := run(t, srv.URL, Config{ReadTimeout: 5 * time.Second})

	resp, err := x.Response(t.Context())
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("exp status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var got []string
	for chunk, err := range resp.Chunks() {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		got = append(got, string(chunk))
		next <- struct{}{}
	}

	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("chunks mismatch (-exp +got):\n%s", diff)
	}
	if err := x.Err(); err != nil {
		t.Errorf("exp clean finish, got: %v", err)
	}
}

func TestChunks_SingleConsumption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "once")
	}))
	defer srv.Close()

	x := run(t, srv.URL, Config{})

	body, err := x.Aggregate(t.Context())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if body != "once" {
		t.Errorf("exp body %q, got %q", "once", body)
	}

	resp, err := x.Response(t.Context())
	if err != nil {
		t.Fatalf("response: %v", err)
	}

	var calls int
	for chunk, err := range resp.Chunks() {
		calls++
		if chunk != nil {
			t.Errorf("exp nil chunk on second consumption, got %q", chunk)
		}
		if !errors.Is(err, ErrConsumed) {
			t.Errorf("exp ErrConsumed, got: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("exp exactly one yield, got %d", calls)
	}
}

func TestAggregate_Decoding(t *testing.T) {
	testCases := []struct {
		name        string
		contentType string
		chunks      [][]byte
		exp         string
	}{
		{
			name:        "utf-8 rune split across chunks",
			contentType: "text/plain; charset=utf-8",
			chunks:      [][]byte{[]byte("h\xc3"), []byte("\xa9llo, w"), []byte("orld")},
			exp:         "héllo, world",
		},
		{
			name:   "no content type defaults to utf-8",
			chunks: [][]byte{[]byte("plain "), []byte("text")},
			exp:    "plain text",
		},
		{
			name:        "latin-1",
			contentType: "text/plain; charset=ISO-8859-1",
			chunks:      [][]byte{{'c', 'a', 'f'}, {0xe9}},
			exp:         "café",
		},
		{
			name:        "unknown charset falls back to utf-8",
			contentType: "text/plain; charset=x-made-up",
			chunks:      [][]byte{[]byte("fallback")},
			exp:         "fallback",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.contentType != "" {
					w.Header().Set("Content-Type", tc.contentType)
				}
				for _, c := range tc.chunks {
					_, _ = w.Write(c)
					_ = http.NewResponseController(w).Flush()
				}
			}))
			defer srv.Close()

			x := run(t, srv.URL, Config{})

			got, err := x.Aggregate(t.Context())
			if err != nil {
				t.Fatalf("aggregate: %v", err)
			}
			if got != tc.exp {
				t.Errorf("exp %q, got %q", tc.exp, got)
			}
		})
	}
}

func TestChunks_BreakCancelsExchange(t *testing.T) {
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "first")
		_ = http.NewResponseController(w).Flush()

		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	x := run(t, srv.URL, Config{})

	for chunk, err := range x.Chunks(t.Context()) {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		if string(chunk) != "first" {
			t.Errorf("exp first chunk %q, got %q", "first", chunk)
		}
		break
	}

	select {
	case <-x.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("exchange did not finish after consumer stopped")
	}
	if !errors.Is(x.Err(), ErrCancelled) {
		t.Errorf("exp ErrCancelled, got: %v", x.Err())
	}

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe the aborted exchange")
	}
}

func TestChunks_FailureIsDistinguishable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc")
		_ = buf.Flush()
	}))
	defer srv.Close()

	x := run(t, srv.URL, Config{})

	var (
		got     []byte
		lastErr error
	)
	for chunk, err := range x.Chunks(t.Context()) {
		if err != nil {
			lastErr = err
			continue
		}
		got = append(got, chunk...)
	}

	if string(got) != "abc" {
		t.Errorf("exp partial body %q, got %q", "abc", got)
	}
	if !errors.Is(lastErr, ErrTransport) {
		t.Fatalf("exp ErrTransport, got: %v", lastErr)
	}
	if !errors.Is(lastErr, io.ErrUnexpectedEOF) {
		t.Errorf("exp io.ErrUnexpectedEOF, got: %v", lastErr)
	}
	if !errors.Is(x.Err(), ErrTransport) {
		t.Errorf("exp exchange error ErrTransport, got: %v", x.Err())
	}
}

func TestDeliver_ReadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "slow")
		_ = http.NewResponseController(w).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	x := run(t, srv.URL, Config{ReadTimeout: 50 * time.Millisecond})

	_, err := x.Bytes(t.Context())
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("exp ErrReadTimeout, got: %v", err)
	}

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("exp *TransportError, got %T", err)
	}
	if !te.Timeout() {
		t.Error("exp Timeout() == true")
	}
}

func TestDeliver_StalledConsumer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "nobody reads this")
	}))
	defer srv.Close()

	x := run(t, srv.URL, Config{StallTimeout: 50 * time.Millisecond})

	select {
	case <-x.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned exchange was not aborted")
	}

	if !errors.Is(x.Err(), ErrStalled) {
		t.Fatalf("exp ErrStalled, got: %v", x.Err())
	}

	resp, err := x.Response(t.Context())
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	for chunk, err := range resp.Chunks() {
		if chunk != nil {
			t.Errorf("exp no chunks after stall, got %q", chunk)
		}
		if !errors.Is(err, ErrStalled) {
			t.Errorf("exp ErrStalled, got: %v", err)
		}
	}
}

func TestDeliver_SlowConsumerIsNotStalled(t *testing.T) {
	exp := []string{"one-", "two-", "three"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, c := range exp {
			_, _ = io.WriteString(w, c)
			_ = http.NewResponseController(w).Flush()
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer srv.Close()

	x := run(t, srv.URL, Config{ReadTimeout: 200 * time.Millisecond, StallTimeout: 50 * time.Millisecond})

	resp, err := x.Response(t.Context())
	if err != nil {
		t.Fatalf("response: %v", err)
	}

	var got string
	for chunk, err := range resp.Chunks() {
		if err != nil {
			t.Fatalf("slow consumer failed after %q: %v", got, err)
		}
		got += string(chunk)
		time.Sleep(150 * time.Millisecond)
	}

	if got != "one-two-three" {
		t.Errorf("exp body %q, got %q", "one-two-three", got)
	}
	if err := x.Err(); err != nil {
		t.Errorf("exp clean finish, got: %v", err)
	}
}

func TestDeliver_StallCheckDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "read late")
	}))
	defer srv.Close()

	x := run(t, srv.URL, Config{StallTimeout: -1})

	resp, err := x.Response(t.Context())
	if err != nil {
		t.Fatalf("response: %v", err)
	}

	select {
	case <-x.Done():
		t.Fatalf("exp exchange to wait for the consumer, finished with: %v", x.Err())
	case <-time.After(100 * time.Millisecond):
	}

	b, err := resp.Bytes(t.Context())
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(b) != "read late" {
		t.Errorf("exp %q, got %q", "read late", b)
	}
}

func TestExchange_FinishWithoutResponse(t *testing.T) {
	errDial := errors.New("dial refused")

	x, _ := New(t.Context(), Config{})
	x.Finish(&TransportError{Op: "dial", Host: "example.com", Err: errDial})

	select {
	case <-x.Ready():
	default:
		t.Fatal("exp Ready closed after Finish")
	}

	_, err := x.Response(t.Context())
	if !errors.Is(err, errDial) || !errors.Is(err, ErrTransport) {
		t.Errorf("exp dial transport error, got: %v", err)
	}

	_, err = x.Aggregate(t.Context())
	if !errors.Is(err, errDial) {
		t.Errorf("exp dial error from Aggregate, got: %v", err)
	}

	empty, _ := New(t.Context(), Config{})
	empty.Finish(nil)
	if !errors.Is(empty.Err(), ErrNoResponse) {
		t.Errorf("exp ErrNoResponse, got: %v", empty.Err())
	}
}

func TestExchange_ResponseContext(t *testing.T) {
	x, _ := New(t.Context(), Config{})
	defer x.Finish(nil)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	_, err := x.Response(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("exp context.DeadlineExceeded, got: %v", err)
	}
}

func TestExchange_Cancel(t *testing.T) {
	x, ctx := New(t.Context(), Config{})

	x.Cancel()

	if !errors.Is(context.Cause(ctx), ErrCancelled) {
		t.Errorf("exp producer context cancelled with ErrCancelled, got: %v", context.Cause(ctx))
	}
	if x.ID().String() == "" {
		t.Error("exp non-empty exchange id")
	}
}

func TestSaveTo(t *testing.T) {
	const body = "saved body contents"
	sum := sha256.Sum256([]byte(body))
	good := hex.EncodeToString(sum[:])

	testCases := []struct {
		name     string
		opts     func() []SaveOption
		existing bool
		expErr   error
		expFile  string
	}{
		{
			name:    "plain",
			opts:    func() []SaveOption { return nil },
			expFile: body,
		},
		{
			name:    "checksum and progress",
			opts:    func() []SaveOption { return []SaveOption{WithChecksum(sha256.New(), good), WithProgress()} },
			expFile: body,
		},
		{
			name:   "checksum mismatch",
			opts:   func() []SaveOption { return []SaveOption{WithChecksum(sha256.New(), "deadbeef")} },
			expErr: ErrChecksumMismatch,
		},
		{
			name:     "skip existing",
			opts:     func() []SaveOption { return []SaveOption{WithSkipExisting()} },
			existing: true,
			expFile:  "already here",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			dir := t.TempDir()
			dest := filepath.Join(dir, "out.txt")
			if tc.existing {
				if err := os.WriteFile(dest, []byte("already here"), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			x := run(t, srv.URL, Config{})
			resp, err := x.Response(t.Context())
			if err != nil {
				t.Fatalf("response: %v", err)
			}

			err = resp.SaveTo(t.Context(), dest, tc.opts()...)
			if tc.expErr != nil {
				if !errors.Is(err, tc.expErr) {
					t.Fatalf("exp %v, got: %v", tc.expErr, err)
				}
				if _, statErr := os.Stat(dest); !errors.Is(statErr, os.ErrNotExist) {
					t.Errorf("exp no destination file, stat err: %v", statErr)
				}
			} else if err != nil {
				t.Fatalf("save: %v", err)
			}

			if tc.expFile != "" {
				got, err := os.ReadFile(dest)
				if err != nil {
					t.Fatal(err)
				}
				if string(got) != tc.expFile {
					t.Errorf("exp file %q, got %q", tc.expFile, got)
				}
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}
			for _, e := range entries {
				if e.Name() != "out.txt" {
					t.Errorf("leftover temp file %s", e.Name())
				}
			}

			select {
			case <-x.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("exchange did not finish")
			}
		})
	}
}

func TestLookupCharset(t *testing.T) {
	testCases := []struct {
		contentType string
		expName     string
		expOK       bool
	}{
		{contentType: "", expName: "utf-8", expOK: true},
		{contentType: "application/json", expName: "utf-8", expOK: true},
		{contentType: "text/plain; charset=UTF8", expName: "utf-8", expOK: true},
		{contentType: "text/html; charset=iso-8859-1", expName: "windows-1252", expOK: true},
		{contentType: "text/plain; charset=shift_jis", expName: "shift_jis", expOK: true},
		{contentType: "text/plain; charset=nope", expName: "nope", expOK: false},
		{contentType: "not a media type;;", expName: "utf-8", expOK: true},
	}

	for _, tc := range testCases {
		t.Run(tc.contentType, func(t *testing.T) {
			enc, name, ok := LookupCharset(tc.contentType)
			if enc == nil {
				t.Fatal("exp non-nil encoding")
			}
			if name != tc.expName {
				t.Errorf("exp name %q, got %q", tc.expName, name)
			}
			if ok != tc.expOK {
				t.Errorf("exp ok %v, got %v", tc.expOK, ok)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	errReset := errors.New("connection reset")

	testCases := []struct {
		name       string
		err        *TransportError
		expMsg     string
		expTimeout bool
	}{
		{
			name:   "io failure",
			err:    &TransportError{Op: "read", Host: "http://example.com:80", Err: errReset},
			expMsg: "read http://example.com:80: connection reset",
		},
		{
			name:       "read timeout",
			err:        &TransportError{Op: "read", Err: ErrReadTimeout},
			expMsg:     "read: timeout reading response body",
			expTimeout: true,
		},
		{
			name:       "deadline",
			err:        &TransportError{Op: "dial", Err: context.DeadlineExceeded},
			expMsg:     "dial: context deadline exceeded",
			expTimeout: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.expMsg {
				t.Errorf("exp message %q, got %q", tc.expMsg, got)
			}
			if got := tc.err.Timeout(); got != tc.expTimeout {
				t.Errorf("exp Timeout() %v, got %v", tc.expTimeout, got)
			}
			if !errors.Is(tc.err, ErrTransport) {
				t.Error("exp errors.Is(err, ErrTransport)")
			}
			if !errors.Is(tc.err, tc.err.Err) {
				t.Error("exp underlying error to be reachable")
			}
		})
	}
}
