package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/jx"

	sharedhttp "github.com/engels74/comradarr/pkg/shared/http"
)

// baseClient implements Client against the *Arr v3 HTTP API shared by
// Sonarr, Radarr, and Whisparr; only the library enumeration path and
// the command kinds differ per variant.
type baseClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	variantType Type
	libraryPath string
}

// NewSonarrClient builds a Client for a Sonarr instance.
func NewSonarrClient(cfg Config) (Client, error) {
	return newBaseClient(cfg, TypeSonarr, "/api/v3/series")
}

// NewRadarrClient builds a Client for a Radarr instance.
func NewRadarrClient(cfg Config) (Client, error) {
	return newBaseClient(cfg, TypeRadarr, "/api/v3/movie")
}

// NewWhisparrClient builds a Client for a Whisparr instance.
func NewWhisparrClient(cfg Config) (Client, error) {
	return newBaseClient(cfg, TypeWhisparr, "/api/v3/series")
}

func newBaseClient(cfg Config, wantType Type, libraryPath string) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Type != wantType {
		return nil, fmt.Errorf("connector config type %q does not match client variant %q", cfg.Type, wantType)
	}
	return &baseClient{
		httpClient:  sharedhttp.NewClient(sharedhttp.UpstreamClientConfig()),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		variantType: wantType,
		libraryPath: libraryPath,
	}, nil
}

// DetectType issues a systemStatus call against baseURL/apiKey and
// switches on the reported appName: deterministic, no caller-supplied
// variant hint required.
func DetectType(ctx context.Context, baseURL, apiKey string) (Type, error) {
	probe := &baseClient{
		httpClient: sharedhttp.NewClient(sharedhttp.UpstreamClientConfig()),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}

	status, err := probe.SystemStatus(ctx)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(status.AppName) {
	case "sonarr":
		return TypeSonarr, nil
	case "radarr":
		return TypeRadarr, nil
	case "whisparr":
		return TypeWhisparr, nil
	default:
		return "", serverErr(0, fmt.Sprintf("unrecognized appName %q", status.AppName))
	}
}

func (c *baseClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	_, body, err := c.get(ctx, "/api/v3/system/status")
	if err != nil {
		return err
	}
	_ = body
	return nil
}

func (c *baseClient) SystemStatus(ctx context.Context) (SystemStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	_, body, err := c.get(ctx, "/api/v3/system/status")
	if err != nil {
		return SystemStatus{}, err
	}
	return decodeSystemStatus(body)
}

func (c *baseClient) FullLibrary(ctx context.Context) ([]LibraryItem, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	_, body, err := c.get(ctx, c.libraryPath)
	if err != nil {
		return nil, err
	}
	return decodeLibraryItems(body)
}

func (c *baseClient) LibrarySince(ctx context.Context, since time.Time) ([]LibraryItem, error) {
	items, err := c.FullLibrary(ctx)
	if err != nil {
		return nil, err
	}
	filtered := items[:0]
	for _, item := range items {
		if item.UpdatedAt.After(since) {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

func (c *baseClient) PostCommand(ctx context.Context, kind string, args map[string]any) (CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	payload := encodeCommandRequest(kind, args)

	_, body, err := c.post(ctx, "/api/v3/command", payload)
	if err != nil {
		return CommandResult{}, err
	}
	return decodeCommandResult(body)
}

func (c *baseClient) CommandStatus(ctx context.Context, commandID int64) (CommandStatusResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	_, body, err := c.get(ctx, fmt.Sprintf("/api/v3/command/%d", commandID))
	if err != nil {
		return CommandStatusResult{}, err
	}
	return decodeCommandStatus(body)
}

func (c *baseClient) Queue(ctx context.Context) ([]QueueItem, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	_, body, err := c.get(ctx, "/api/v3/queue")
	if err != nil {
		return nil, err
	}
	return decodeQueueItems(body)
}

func (c *baseClient) get(ctx context.Context, path string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	return c.do(req)
}

func (c *baseClient) post(ctx context.Context, path string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *baseClient) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, classifyTransportError(err)
	}

	if resp.StatusCode >= 400 {
		return resp, respBody, classifyStatus(resp)
	}

	return resp, respBody, nil
}

func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutErr(err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return timeoutErr(err)
		}
		err = urlErr.Err
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return networkErr(NetworkDNSFailure, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return networkErr(NetworkConnRefused, err)
		}
	}

	var tlsErr *tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return networkErr(NetworkTLSFailure, err)
	}

	if strings.Contains(err.Error(), "connection refused") {
		return networkErr(NetworkConnRefused, err)
	}
	if strings.Contains(err.Error(), "tls") || strings.Contains(err.Error(), "certificate") {
		return networkErr(NetworkTLSFailure, err)
	}

	return networkErr(NetworkCauseUnknown, err)
}

func classifyStatus(resp *http.Response) *Error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return authFailed(fmt.Errorf("upstream returned status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return notFound(fmt.Errorf("upstream returned status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimited(parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode == http.StatusRequestTimeout:
		return timeoutErr(fmt.Errorf("upstream returned status %d", resp.StatusCode))
	default:
		return serverErr(resp.StatusCode, resp.Status)
	}
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return seconds
}

func decodeSystemStatus(body []byte) (SystemStatus, error) {
	var status SystemStatus
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "appName":
			v, err := d.Str()
			if err != nil {
				return err
			}
			status.AppName = v
		case "version":
			v, err := d.Str()
			if err != nil {
				return err
			}
			status.Version = v
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return SystemStatus{}, serverErr(0, fmt.Sprintf("decode systemStatus response: %v", err))
	}
	return status, nil
}

func decodeLibraryItems(body []byte) ([]LibraryItem, error) {
	var items []LibraryItem
	d := jx.DecodeBytes(body)
	err := d.Arr(func(d *jx.Decoder) error {
		var item LibraryItem
		err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				v, err := d.Int64()
				if err != nil {
					return err
				}
				item.UpstreamID = v
			case "title":
				v, err := d.Str()
				if err != nil {
					return err
				}
				item.Title = v
			case "year":
				v, err := d.Int()
				if err != nil {
					return err
				}
				item.Year = v
			case "monitored":
				v, err := d.Bool()
				if err != nil {
					return err
				}
				item.Monitored = v
			case "hasFile":
				v, err := d.Bool()
				if err != nil {
					return err
				}
				item.HasFile = v
			case "qualityCutoffNotMet":
				v, err := d.Bool()
				if err != nil {
					return err
				}
				item.QualityCutoffNotMet = v
			case "added":
				v, err := d.Str()
				if err != nil {
					return err
				}
				if parsed, parseErr := time.Parse(time.RFC3339, v); parseErr == nil {
					item.UpdatedAt = parsed
				}
			case "seriesId":
				v, err := d.Int64()
				if err != nil {
					return err
				}
				item.SeriesUpstreamID = v
			case "seasonNumber":
				v, err := d.Int()
				if err != nil {
					return err
				}
				item.SeasonNumber = v
			case "nextAiring":
				v, err := d.Str()
				if err != nil {
					return err
				}
				if parsed, parseErr := time.Parse(time.RFC3339, v); parseErr == nil {
					item.NextAiring = parsed
				}
			default:
				return d.Skip()
			}
			return nil
		})
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, serverErr(0, fmt.Sprintf("decode library response: %v", err))
	}
	return items, nil
}

func decodeCommandResult(body []byte) (CommandResult, error) {
	var result CommandResult
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Int64()
			if err != nil {
				return err
			}
			result.ID = v
		case "status":
			v, err := d.Str()
			if err != nil {
				return err
			}
			result.Status = v
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return CommandResult{}, serverErr(0, fmt.Sprintf("decode command response: %v", err))
	}
	return result, nil
}

func decodeCommandStatus(body []byte) (CommandStatusResult, error) {
	var result CommandStatusResult
	var commandResult string
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Str()
			if err != nil {
				return err
			}
			result.Status = v
		case "result":
			v, err := d.Str()
			if err != nil {
				return err
			}
			commandResult = v
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return CommandStatusResult{}, serverErr(0, fmt.Sprintf("decode command status response: %v", err))
	}
	result.FileAcquired = result.Status == "completed" && strings.EqualFold(commandResult, "successful")
	return result, nil
}

func decodeQueueItems(body []byte) ([]QueueItem, error) {
	var items []QueueItem
	d := jx.DecodeBytes(body)

	decodeRecord := func(d *jx.Decoder) error {
		var item QueueItem
		err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				v, err := d.Int64()
				if err != nil {
					return err
				}
				item.ID = v
			case "title":
				v, err := d.Str()
				if err != nil {
					return err
				}
				item.Title = v
			case "status":
				v, err := d.Str()
				if err != nil {
					return err
				}
				item.Status = v
			default:
				return d.Skip()
			}
			return nil
		})
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	}

	// The *Arr v3 queue endpoint returns either a bare array or a
	// paged {records: [...]} envelope depending on version; handle
	// both without requiring the caller to know which.
	if d.Next() == jx.Array {
		err := d.Arr(decodeRecord)
		if err != nil {
			return nil, serverErr(0, fmt.Sprintf("decode queue response: %v", err))
		}
		return items, nil
	}

	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "records" {
			return d.Skip()
		}
		return d.Arr(decodeRecord)
	})
	if err != nil {
		return nil, serverErr(0, fmt.Sprintf("decode queue response: %v", err))
	}
	return items, nil
}

func encodeCommandRequest(kind string, args map[string]any) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("name")
	e.Str(kind)
	for k, v := range args {
		e.FieldStart(k)
		encodeValue(e, v)
	}
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

func encodeValue(e *jx.Encoder, v any) {
	switch val := v.(type) {
	case string:
		e.Str(val)
	case int:
		e.Int(val)
	case int64:
		e.Int64(val)
	case float64:
		e.Float64(val)
	case bool:
		e.Bool(val)
	case []int64:
		e.ArrStart()
		for _, n := range val {
			e.Int64(n)
		}
		e.ArrEnd()
	default:
		e.Null()
	}
}
