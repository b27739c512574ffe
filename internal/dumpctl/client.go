// Package dumpctl implements the dumpctl CLI: a thin HTTP client against
// the bus server's /dump routes, rendering results with tablewriter, with
// go-isatty gating whether borders are drawn for a human versus piped
// output.
package dumpctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// entryView mirrors dumpmgr.EntryView's JSON shape without importing the
// daemon's internal packages from a CLI binary.
type entryView struct {
	ID         uint32
	StartTime  time.Time
	Completed  time.Time
	Size       uint64
	Status     string
	Progress   uint8
	Offloaded  bool
	OffloadURI string
	File       string
	ObjectPath string
	Family     string
	Extra      map[string]string
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s", apiErr.Error)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) list(family string) ([]entryView, error) {
	var views []entryView
	err := c.do(http.MethodGet, "/dump/"+family+"/entry", nil, &views)
	return views, err
}

func (c *client) get(family string, id uint32) (entryView, error) {
	var view entryView
	err := c.do(http.MethodGet, fmt.Sprintf("/dump/%s/entry/%d", family, id), nil, &view)
	return view, err
}

func (c *client) create(family string, params map[string]string) (string, error) {
	var result struct {
		ObjectPath string `json:"ObjectPath"`
	}
	err := c.do(http.MethodPost, "/dump/"+family+"/entry", params, &result)
	return result.ObjectPath, err
}

func (c *client) delete(family string, id uint32) error {
	return c.do(http.MethodDelete, fmt.Sprintf("/dump/%s/entry/%d", family, id), nil, nil)
}

func (c *client) offload(family string, id uint32, uri string) error {
	return c.do(http.MethodPost, fmt.Sprintf("/dump/%s/entry/%d/offload", family, id), map[string]string{"URI": uri}, nil)
}
