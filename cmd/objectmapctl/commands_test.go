package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/urfave/cli/v2"

	"objectmap/internal/authority"
	"objectmap/internal/collection"
	"objectmap/internal/registry/handler"
	"objectmap/internal/registry/loader"
	"objectmap/internal/registry/models"
	regservice "objectmap/internal/registry/service"
	"objectmap/internal/registry/snapshot"
	"objectmap/internal/registry/store"
	audit "objectmap/pkg/platform/audit"
	request "objectmap/pkg/platform/middleware/request"
	"objectmap/pkg/testutil"
)

const (
	size       = 4
	signingKey = "0123456789abcdef0123456789abcdef"
)

type CLISuite struct {
	suite.Suite
	server      *httptest.Server
	pipelineKey string
	dir         string
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLISuite))
}

func (s *CLISuite) SetupTest() {
	key, err := authority.GenerateKey()
	s.Require().NoError(err)
	s.pipelineKey = key
	hash, err := authority.HashKey(key)
	s.Require().NoError(err)

	sizes, err := collection.NewStatic(size)
	s.Require().NoError(err)
	caps := authority.NewCapabilities(signingKey, "objectmap", "cap-1")
	svc := regservice.New(store.NewInMemory(), sizes, caps)
	_, err = svc.Bootstrap(context.Background(), "pipeline")
	s.Require().NoError(err)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Time)
	handler.New(svc, authority.NewPipelineKeys(hash), slog.New(slog.DiscardHandler)).Register(r)
	s.server = httptest.NewServer(r)
	s.dir = s.T().TempDir()
}

func (s *CLISuite) TearDownTest() {
	s.server.Close()
}

func (s *CLISuite) run(args ...string) (string, error) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"objectmapctl"}, args...))
	return out.String(), err
}

func (s *CLISuite) writeManifest() string {
	var b strings.Builder
	b.WriteString("number,object_id\n")
	for n := uint32(1); n <= size; n++ {
		fmt.Fprintf(&b, "%d,%s\n", n, models.ObjectID(testutil.ObjectIDBytes(n)).String())
	}
	path := filepath.Join(s.dir, "manifest.csv")
	s.Require().NoError(os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func (s *CLISuite) TestFullLifecycle() {
	out, err := s.run("populate", "--server", s.server.URL, "--pipeline-key", s.pipelineKey, "--manifest", s.writeManifest())
	s.Require().NoError(err)
	var report loader.Report
	s.Require().NoError(json.Unmarshal([]byte(out), &report))
	s.Equal(size, report.Added)

	_, err = s.run("lookup", "--server", s.server.URL, "1")
	s.ErrorIs(err, models.ErrNotFrozen)

	token, err := s.run("mint-capability", "--signing-key", signingKey, "--capability-id", "cap-1", "admin")
	s.Require().NoError(err)

	_, err = s.run("freeze", "--server", s.server.URL, "--capability", strings.TrimSpace(token))
	s.Require().NoError(err)

	out, err = s.run("lookup", "--server", s.server.URL, "2")
	s.Require().NoError(err)
	s.Equal(models.ObjectID(testutil.ObjectIDBytes(2)).String()+"\n", out)

	exportDir := filepath.Join(s.dir, "exports")
	out, err = s.run("export", "--server", s.server.URL, "--target", exportDir)
	s.Require().NoError(err)
	location, digest, ok := strings.Cut(strings.TrimSpace(out), " ")
	s.Require().True(ok)

	data, err := os.ReadFile(location)
	s.Require().NoError(err)
	doc, err := snapshot.Decode(data)
	s.Require().NoError(err)
	s.Equal(digest, doc.Digest)
	s.Len(doc.Entries, size)
}

func (s *CLISuite) TestPopulateRequiresKey() {
	_, err := s.run("populate", "--server", s.server.URL, "--manifest", s.writeManifest())
	s.Error(err)
}

func (s *CLISuite) TestExportBeforeFreeze() {
	_, err := s.run("export", "--server", s.server.URL, "--target", s.dir)
	s.ErrorIs(err, models.ErrNotFrozen)
}

func TestPipelineKeyOutputVerifies(t *testing.T) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run([]string{"objectmapctl", "pipeline-key"}))

	var keys map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &keys))
	assert.NoError(t, authority.NewPipelineKeys(keys["pipeline_key_hash"]).Verify(keys["pipeline_key"]))
}

func TestPrintSinkWritesJSONLines(t *testing.T) {
	var out bytes.Buffer
	sink := &printSink{enc: json.NewEncoder(&out)}

	require.NoError(t, sink.Append(context.Background(), audit.Event{Action: string(audit.EventRegistryFrozen)}))
	require.NoError(t, sink.Append(context.Background(), audit.Event{Action: string(audit.EventEntryAdded), Number: 3}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"Number":3`)
}
