// Package downloader fetches published networks from a model server and keeps
// them in a local on-disk repository.
package downloader

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterbourgon/diskv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"mlstages/internal/logging"
)

const (
	ManifestName = "MANIFEST"

	schemaSuffix = ".json"
	modelSuffix  = ".model"
)

// ModelSchema describes a published network. URI is relative to the server
// for remote schemas and a local file path once downloaded.
type ModelSchema struct {
	Name       string   `json:"name"`
	Dataset    string   `json:"dataset"`
	ModelType  string   `json:"modelType"`
	URI        string   `json:"uri"`
	Hash       string   `json:"hash"`
	Size       int64    `json:"size"`
	InputNode  int      `json:"inputNode"`
	NumLayers  int      `json:"numLayers"`
	LayerNames []string `json:"layerNames"`
}

type Downloader struct {
	LocalPath string
	ServerURL string
	Client    *http.Client

	store *diskv.Diskv
	log   *zerolog.Logger
}

func New(localPath, serverURL string) *Downloader {
	return &Downloader{
		LocalPath: localPath,
		ServerURL: strings.TrimRight(serverURL, "/"),
		Client:    http.DefaultClient,
		store: diskv.New(diskv.Options{
			BasePath:     localPath,
			Transform:    func(string) []string { return []string{} },
			CacheSizeMax: 1024 * 1024,
		}),
		log: logging.For("downloader"),
	}
}

// RemoteModels lists the schemas named in the server's manifest, one schema
// path per line.
func (d *Downloader) RemoteModels(ctx context.Context) ([]ModelSchema, error) {
	body, err := d.fetch(ctx, ManifestName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch manifest")
	}

	var schemas []ModelSchema
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, err := d.fetch(ctx, line)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch schema %s", line)
		}
		var schema ModelSchema
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, errors.Wrapf(err, "malformed schema %s", line)
		}
		schemas = append(schemas, schema)
	}
	return schemas, scanner.Err()
}

// DownloadByName fetches the named model unless an identical copy is already
// stored, and returns its schema pointing at the local file.
func (d *Downloader) DownloadByName(ctx context.Context, name string) (*ModelSchema, error) {
	remote, err := d.RemoteModels(ctx)
	if err != nil {
		return nil, err
	}
	var schema *ModelSchema
	for i := range remote {
		if remote[i].Name == name {
			schema = &remote[i]
			break
		}
	}
	if schema == nil {
		return nil, errors.Errorf("model %q is not published on %s", name, d.ServerURL)
	}

	if local, err := d.LocalModel(name); err == nil && strings.EqualFold(local.Hash, schema.Hash) {
		d.log.Debug().Str("model", name).Msg("using stored copy")
		return local, nil
	}

	d.log.Info().Str("model", name).Str("uri", schema.URI).Msg("downloading model")
	payload, err := d.fetch(ctx, schema.URI)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download %s", name)
	}
	if err := verify(schema, payload); err != nil {
		return nil, err
	}

	key := name + modelSuffix
	if err := d.store.Write(key, payload); err != nil {
		return nil, errors.Wrap(err, "failed to store model")
	}
	local := *schema
	local.URI = filepath.Join(d.LocalPath, key)
	raw, err := json.Marshal(local)
	if err != nil {
		return nil, err
	}
	if err := d.store.Write(name+schemaSuffix, raw); err != nil {
		return nil, errors.Wrap(err, "failed to store schema")
	}
	return &local, nil
}

// LocalModel returns the stored schema for name.
func (d *Downloader) LocalModel(name string) (*ModelSchema, error) {
	raw, err := d.store.Read(name + schemaSuffix)
	if err != nil {
		return nil, errors.Wrapf(err, "model %q is not stored locally", name)
	}
	var schema ModelSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, errors.Wrapf(err, "malformed local schema for %q", name)
	}
	return &schema, nil
}

// LocalModels lists every stored schema sorted by name.
func (d *Downloader) LocalModels() ([]ModelSchema, error) {
	cancel := make(chan struct{})
	defer close(cancel)

	var schemas []ModelSchema
	for key := range d.store.Keys(cancel) {
		if !strings.HasSuffix(key, schemaSuffix) {
			continue
		}
		schema, err := d.LocalModel(strings.TrimSuffix(key, schemaSuffix))
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, *schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas, nil
}

func (d *Downloader) fetch(ctx context.Context, ref string) ([]byte, error) {
	target, err := d.resolve(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("GET %s: %s", target, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (d *Downloader) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", errors.Wrapf(err, "invalid reference %q", ref)
	}
	if u.IsAbs() {
		return ref, nil
	}
	base, err := url.Parse(d.ServerURL + "/")
	if err != nil {
		return "", errors.Wrapf(err, "invalid server url %q", d.ServerURL)
	}
	return base.ResolveReference(u).String(), nil
}

func verify(schema *ModelSchema, payload []byte) error {
	if schema.Size > 0 && int64(len(payload)) != schema.Size {
		return errors.Errorf("model %q: expected %d bytes, got %d", schema.Name, schema.Size, len(payload))
	}
	sum := sha256.Sum256(payload)
	if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, schema.Hash) {
		return errors.Errorf("model %q: checksum mismatch, expected %s got %s", schema.Name, schema.Hash, got)
	}
	return nil
}
