package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const modelListTTL = 5 * time.Minute

const generateMethod = "generateContent"

// modelCatalog caches the account's model listing so repeated 404s do not
// trigger a listing call each time.
type modelCatalog struct {
	mu        sync.Mutex
	names     []string
	fetchedAt time.Time
	now       func() time.Time
}

// list returns the cached listing, refreshing it through fetch once it is older
// than modelListTTL. A failed refresh yields an empty listing and leaves the cache
// untouched.
func (c *modelCatalog) list(ctx context.Context, fetch func(context.Context) ([]string, error)) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) <= modelListTTL {
		return c.names
	}

	names, err := fetch(ctx)
	if err != nil {
		return nil
	}
	c.names = names
	c.fetchedAt = c.now()
	return names
}

// pickPreferred returns the short name of the first listed model containing
// family that is not in exclude.
func pickPreferred(names []string, family string, exclude []string) string {
	for _, full := range names {
		if !strings.Contains(full, family) {
			continue
		}
		short := full[strings.LastIndex(full, "/")+1:]
		if !contains(exclude, short) {
			return short
		}
	}
	return ""
}

func (c *Client) fetchModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/v1beta/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", c.apiKey())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model listing returned HTTP %d", resp.StatusCode)
	}

	var listing modelList
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode model listing: %w", err)
	}

	names := make([]string, 0, len(listing.Models))
	for _, m := range listing.Models {
		if m.Name == "" || !m.generates() {
			continue
		}
		names = append(names, m.Name)
	}
	return names, nil
}

// generates reports whether the model accepts generateContent. Models listed
// without any methods are kept.
func (m listedModel) generates() bool {
	return len(m.SupportedGenerationMethods) == 0 || contains(m.SupportedGenerationMethods, generateMethod)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
