package encode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	FrameObject   = "object"
	FrameEmbedded = "embedded"
)

// Client talks to the ENCODE portal. GET responses are cached for the life of
// the client since one run asks for the same replicates many times.
type Client struct {
	server     *url.URL
	keypair    Keypair
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string][]byte
}

func NewClient(kp Keypair) (*Client, error) {
	server, err := url.Parse(kp.Server)
	if err != nil {
		return nil, fmt.Errorf("invalid server %q: %w", kp.Server, err)
	}
	return &Client{
		server:     server,
		keypair:    kp,
		httpClient: &http.Client{Timeout: 60 * time.Second, CheckRedirect: getRedirectsOnly},
		cache:      make(map[string][]byte),
	}, nil
}

// URL resolves uri against the server and adds format and frame parameters
// unless the uri already sets them.
func (c *Client) URL(uri, frame string) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid uri %q: %w", uri, err)
	}
	u := c.server.ResolveReference(ref)
	q := u.Query()
	if q.Get("format") == "" {
		q.Set("format", "json")
	}
	if frame != "" && q.Get("frame") == "" {
		q.Set("frame", frame)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Get fetches uri in the given frame and decodes it into v.
func (c *Client) Get(ctx context.Context, uri, frame string, v any) error {
	if frame == "" {
		frame = FrameObject
	}
	target, err := c.URL(uri, frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	body, cached := c.cache[target]
	c.mu.Unlock()

	if !cached {
		body, err = c.do(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.cache[target] = body
		c.mu.Unlock()
	} else {
		slog.Debug("ENCODE cache hit", "url", target)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", target, err)
	}
	return nil
}

// Patch sends body as a JSON PATCH to uri.
func (c *Client) Patch(ctx context.Context, uri string, body any) error {
	target, err := c.URL(uri, "")
	if err != nil {
		return err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPatch, target, data); err != nil {
		return err
	}
	c.mu.Lock()
	for k := range c.cache {
		delete(c.cache, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.keypair.Key, c.keypair.Secret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("ENCODE request", "method", method, "url", target)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Method: method, URL: target, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// getRedirectsOnly follows redirects for GET only. http.Client would replay a
// redirected PATCH as a GET, so the redirect is returned as the response instead.
func getRedirectsOnly(req *http.Request, via []*http.Request) error {
	if via[0].Method != http.MethodGet {
		return http.ErrUseLastResponse
	}
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	return nil
}

func (c *Client) GetExperiment(ctx context.Context, uri string) (*Experiment, error) {
	var exp Experiment
	if err := c.Get(ctx, uri, FrameObject, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

func (c *Client) GetFile(ctx context.Context, uri string) (*File, error) {
	var f File
	if err := c.Get(ctx, uri, FrameObject, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) GetReplicate(ctx context.Context, uri, frame string) (*Replicate, error) {
	var rep Replicate
	if err := c.Get(ctx, uri, frame, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// BiorepNumbers returns the biological replicate numbers a file belongs to.
// Derived files inherit the replicates of everything they were derived from.
func (c *Client) BiorepNumbers(ctx context.Context, f *File) ([]int, error) {
	if len(f.DerivedFrom) > 0 {
		var ns []int
		for _, parentURI := range f.DerivedFrom {
			parent, err := c.GetFile(ctx, parentURI)
			if err != nil {
				return nil, err
			}
			parentNs, err := c.BiorepNumbers(ctx, parent)
			if err != nil {
				return nil, err
			}
			ns = append(ns, parentNs...)
		}
		return lo.Uniq(ns), nil
	}
	if f.Replicate == "" {
		return nil, nil
	}
	rep, err := c.GetReplicate(ctx, f.Replicate, FrameObject)
	if err != nil {
		return nil, err
	}
	return []int{rep.BiologicalReplicate}, nil
}

// ErrNoOrganism is returned when a replicate's biosample names no organism.
var ErrNoOrganism = errors.New("cannot determine organism")

// Organism returns the organism name and biosample sex of an embedded replicate.
func (c *Client) Organism(ctx context.Context, rep *Replicate) (name, sex string, err error) {
	if rep.Library == nil || rep.Library.Biosample == nil || len(rep.Library.Biosample.Organism) == 0 {
		return "", "", ErrNoOrganism
	}
	biosample := rep.Library.Biosample

	var org Organism
	var link string
	if err := json.Unmarshal(biosample.Organism, &link); err == nil {
		if link == "" {
			return "", biosample.Sex, ErrNoOrganism
		}
		if err := c.Get(ctx, link, FrameObject, &org); err != nil {
			return "", biosample.Sex, err
		}
	} else if err := json.Unmarshal(biosample.Organism, &org); err != nil {
		return "", biosample.Sex, fmt.Errorf("decoding organism: %w", err)
	}

	if org.Name == "" {
		return "", biosample.Sex, ErrNoOrganism
	}
	return org.Name, biosample.Sex, nil
}
