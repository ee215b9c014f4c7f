package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"calsync-agent/internal/domain"
	"calsync-agent/pkg/token"
)

// ReplicaRepository talks to the shared cloud replica store over its REST
// API. Batch writes report per-record conflicts instead of failing the batch;
// reads are cursor-paginated.
type ReplicaRepository interface {
	SaveBatch(records []domain.ReplicaRecord) (*domain.BatchResult, error)
	SaveRecord(record domain.ReplicaRecord) error
	GetRecord(key string) (*domain.ReplicaRecord, error)
	FetchPage(cursor string, limit int) ([]domain.ReplicaRecord, string, error)
	RegisterDevice(device domain.DeviceRecord) error
	ListDevices() ([]domain.DeviceRecord, error)
}

type replicaRepository struct {
	baseURL     string
	deviceID    string
	tokenSecret string
	tokenTTL    time.Duration
	client      *http.Client
}

func NewReplicaRepository(baseURL, deviceID, tokenSecret string, tokenTTL, timeout time.Duration) ReplicaRepository {
	return &replicaRepository{
		baseURL:     baseURL,
		deviceID:    deviceID,
		tokenSecret: tokenSecret,
		tokenTTL:    tokenTTL,
		client:      &http.Client{Timeout: timeout},
	}
}

func (r *replicaRepository) do(method, path string, body interface{}) (*http.Response, error) {
	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewBuffer(data)
	} else {
		buf = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, r.baseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	bearer, err := token.Generate(r.deviceID, r.tokenTTL, r.tokenSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to mint device token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	return r.client.Do(req)
}

func recordDoc(record domain.ReplicaRecord) map[string]interface{} {
	doc := map[string]interface{}{
		"_id":           fmt.Sprintf("record:%s", record.Key()),
		"event":         record.Event,
		"device_id":     record.DeviceID,
		"last_modified": record.LastModified,
	}
	if record.Rev != "" {
		doc["_rev"] = record.Rev
	}
	return doc
}

func (r *replicaRepository) SaveBatch(records []domain.ReplicaRecord) (*domain.BatchResult, error) {
	docs := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		docs = append(docs, recordDoc(record))
	}

	resp, err := r.do(http.MethodPost, "/_bulk_docs", map[string]interface{}{"docs": docs})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch save rejected: status %d", resp.StatusCode)
	}

	var statuses []struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}

	result := &domain.BatchResult{}
	for _, status := range statuses {
		if status.Error == "conflict" {
			result.Conflicted = append(result.Conflicted, strings.TrimPrefix(status.ID, "record:"))
			continue
		}
		if status.Error != "" {
			return nil, fmt.Errorf("batch record %s rejected: %s", status.ID, status.Error)
		}
		result.Saved++
	}

	return result, nil
}

func (r *replicaRepository) SaveRecord(record domain.ReplicaRecord) error {
	docID := fmt.Sprintf("record:%s", record.Key())

	resp, err := r.do(http.MethodPut, "/"+url.PathEscape(docID), recordDoc(record))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to save record %s: status %d", record.Key(), resp.StatusCode)
	}

	return nil
}

func (r *replicaRepository) GetRecord(key string) (*domain.ReplicaRecord, error) {
	docID := fmt.Sprintf("record:%s", key)

	resp, err := r.do(http.MethodGet, "/"+url.PathEscape(docID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get record %s: status %d", key, resp.StatusCode)
	}

	var record domain.ReplicaRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, err
	}

	return &record, nil
}

// FetchPage returns one page of replica records plus the cursor for the next
// page. An empty returned cursor means the listing is exhausted.
func (r *replicaRepository) FetchPage(cursor string, limit int) ([]domain.ReplicaRecord, string, error) {
	startKey := `"record:"`
	if cursor != "" {
		startKey = fmt.Sprintf("%q", cursor)
	}

	path := fmt.Sprintf("/_all_docs?include_docs=true&limit=%d&startkey=%s&endkey=%s",
		limit+1,
		url.QueryEscape(startKey),
		url.QueryEscape("\"record:￰\""),
	)

	resp, err := r.do(http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch replica page: status %d", resp.StatusCode)
	}

	var result struct {
		Rows []struct {
			ID  string               `json:"id"`
			Doc domain.ReplicaRecord `json:"doc"`
		} `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, "", err
	}

	next := ""
	rows := result.Rows
	if len(rows) > limit {
		next = rows[limit].ID
		rows = rows[:limit]
	}

	records := make([]domain.ReplicaRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Doc)
	}

	return records, next, nil
}

func (r *replicaRepository) RegisterDevice(device domain.DeviceRecord) error {
	docID := fmt.Sprintf("device:%s", device.DeviceID)

	doc := map[string]interface{}{
		"_id":         docID,
		"device_id":   device.DeviceID,
		"device_name": device.DeviceName,
		"last_seen":   device.LastSeen,
	}

	resp, err := r.do(http.MethodGet, "/"+url.PathEscape(docID), nil)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			var existing map[string]interface{}
			json.NewDecoder(resp.Body).Decode(&existing)
			if rev, ok := existing["_rev"].(string); ok {
				doc["_rev"] = rev
			}
		}
		resp.Body.Close()
	}

	resp, err = r.do(http.MethodPut, "/"+url.PathEscape(docID), doc)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to register device: status %d", resp.StatusCode)
	}

	return nil
}

func (r *replicaRepository) ListDevices() ([]domain.DeviceRecord, error) {
	path := fmt.Sprintf("/_all_docs?include_docs=true&startkey=%s&endkey=%s",
		url.QueryEscape(`"device:"`),
		url.QueryEscape("\"device:￰\""),
	)

	resp, err := r.do(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list devices: status %d", resp.StatusCode)
	}

	var result struct {
		Rows []struct {
			Doc domain.DeviceRecord `json:"doc"`
		} `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	devices := make([]domain.DeviceRecord, 0, len(result.Rows))
	for _, row := range result.Rows {
		devices = append(devices, row.Doc)
	}

	return devices, nil
}
