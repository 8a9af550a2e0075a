package narbridge_test

import (
	"bytes"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/nix-community/go-nix/pkg/nar"
	"github.com/nix-community/go-nix/pkg/nixbase32"
	"github.com/stretchr/testify/require"

	"github.com/tvixio/tvix/pkg/blob"
	"github.com/tvixio/tvix/pkg/directory"
	"github.com/tvixio/tvix/pkg/narbridge"
	"github.com/tvixio/tvix/pkg/pathinfo"
)

func newTestServer() *narbridge.Server {
	blobSvc := blob.NewMemory()
	dirSvc := directory.NewMemory()
	pathInfoSvc := pathinfo.NewMemory(pathinfo.NewResolver(blobSvc, dirSvc))
	return narbridge.New(blobSvc, dirSvc, pathInfoSvc, false, 30)
}

func buildNAR(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := nar.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&nar.Header{Path: "/", Type: nar.TypeRegular, Size: int64(len(content))}))
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// TestNarAndNarinfoRoundTrip exercises the full upload/download cycle: PUT
// the .nar, PUT the .narinfo that completes it, then GET both back and
// confirm the NAR bytes and narinfo fields match.
func TestNarAndNarinfoRoundTrip(t *testing.T) {
	s := newTestServer()

	raw := buildNAR(t, []byte("hello world\n"))
	sum := sha256.Sum256(raw)
	narHashURL := nixbase32.EncodeToString(sum[:])

	// PUT the .nar file.
	putNarReq := httptest.NewRequest(http.MethodPut, "/nar/"+narHashURL+".nar", bytes.NewReader(raw))
	putNarRec := httptest.NewRecorder()
	s.ServeHTTP(putNarRec, putNarReq)
	require.Equal(t, http.StatusOK, putNarRec.Code, putNarRec.Body.String())

	// PUT the .narinfo referencing it.
	outputHash := bytes.Repeat([]byte{0xAB}, 20)
	outputHashStr := nixbase32.EncodeToString(outputHash)
	storeName := outputHashStr + "-hello"

	narinfoBody := "StorePath: /nix/store/" + storeName + "\n" +
		"URL: nar/" + narHashURL + ".nar\n" +
		"Compression: none\n" +
		"NarHash: sha256:" + nixbase32.EncodeToString(sum[:]) + "\n" +
		"NarSize: " + strconv.Itoa(len(raw)) + "\n"

	putNarinfoReq := httptest.NewRequest(http.MethodPut, "/"+outputHashStr+".narinfo", bytes.NewBufferString(narinfoBody))
	putNarinfoRec := httptest.NewRecorder()
	s.ServeHTTP(putNarinfoRec, putNarinfoReq)
	require.Equal(t, http.StatusOK, putNarinfoRec.Code, putNarinfoRec.Body.String())

	// GET the .narinfo back.
	getNarinfoReq := httptest.NewRequest(http.MethodGet, "/"+outputHashStr+".narinfo", nil)
	getNarinfoRec := httptest.NewRecorder()
	s.ServeHTTP(getNarinfoRec, getNarinfoReq)
	require.Equal(t, http.StatusOK, getNarinfoRec.Code, getNarinfoRec.Body.String())
	require.Contains(t, getNarinfoRec.Body.String(), "StorePath: /nix/store/"+storeName)
	require.Contains(t, getNarinfoRec.Body.String(), "NarSize: "+strconv.Itoa(len(raw)))

	// GET the .nar back and confirm it's byte-identical.
	getNarReq := httptest.NewRequest(http.MethodGet, "/nar/"+narHashURL+".nar", nil)
	getNarRec := httptest.NewRecorder()
	s.ServeHTTP(getNarRec, getNarReq)
	require.Equal(t, http.StatusOK, getNarRec.Code)
	require.Equal(t, raw, getNarRec.Body.Bytes())
}

func TestNarinfoGetMissingReturnsNotFound(t *testing.T) {
	s := newTestServer()
	outputHash := bytes.Repeat([]byte{0xCD}, 20)
	req := httptest.NewRequest(http.MethodGet, "/"+nixbase32.EncodeToString(outputHash)+".narinfo", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
