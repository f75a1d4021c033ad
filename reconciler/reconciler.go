// Package reconciler keeps auto-update DNS records pointed at the current public IP.
//
// A run resolves the public IP once, then walks every eligible record independently:
// A records are updated when their content differs, CNAME records are always rewritten
// into A records. A failing record never stops the others. Every provider update attempt
// ends up in the store's update log, records that are already in sync only show up in the
// returned Summary.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wdullaer/cf-ddns/dns"
	"github.com/wdullaer/cf-ddns/publicip"
	"github.com/wdullaer/cf-ddns/store"
	"github.com/wdullaer/cf-ddns/types"
	"go.uber.org/zap"
)

// ResultStatus is the outcome of one record in a run
type ResultStatus string

const (
	StatusUpdated ResultStatus = "updated"
	StatusSkipped ResultStatus = "skipped"
	StatusError   ResultStatus = "error"
)

const (
	msgUpdated       = "IP updated"
	msgConverted     = "CNAME converted to A record and IP updated"
	msgProxyDisabled = " (proxy disabled)"
	msgUnchanged     = "IP unchanged"
)

// RecordResult describes what happened to one record during a run
type RecordResult struct {
	RecordID      string           `json:"recordId"`
	Name          string           `json:"name"`
	ZoneName      string           `json:"zoneName"`
	Status        ResultStatus     `json:"status"`
	Message       string           `json:"message"`
	OldContent    string           `json:"oldContent"`
	NewContent    string           `json:"newContent"`
	OldType       types.RecordType `json:"oldType"`
	NewType       types.RecordType `json:"newType"`
	TypeChanged   bool             `json:"typeChanged"`
	ProxyDisabled bool             `json:"proxyDisabled"`
}

// Summary is the aggregate outcome of a run
type Summary struct {
	RunID         string            `json:"runId"`
	Trigger       types.TriggerType `json:"triggerType"`
	CurrentIP     string            `json:"currentIP"`
	StartedAt     time.Time         `json:"startedAt"`
	FinishedAt    time.Time         `json:"finishedAt"`
	TotalEligible int               `json:"totalEligible"`
	Updated       int               `json:"updated"`
	Skipped       int               `json:"skipped"`
	Errored       int               `json:"errored"`
	Results       []RecordResult    `json:"results"`
}

func (summary *Summary) add(result RecordResult) {
	switch result.Status {
	case StatusUpdated:
		summary.Updated++
	case StatusSkipped:
		summary.Skipped++
	case StatusError:
		summary.Errored++
	}
	summary.Results = append(summary.Results, result)
}

// Engine performs reconciliation runs. It holds no per-run state and does not guard
// against concurrent runs, that is the job of the scheduler.
type Engine struct {
	store    store.Store
	ip       publicip.Provider
	factory  dns.Factory
	now      func() time.Time
	newRunID func() string
	logger   *zap.SugaredLogger
}

// NewEngine returns an Engine reading records from store, resolving the IP with ip and
// creating a provider client per credential with factory
func NewEngine(store store.Store, ip publicip.Provider, factory dns.Factory, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		store:    store,
		ip:       ip,
		factory:  factory,
		now:      time.Now,
		newRunID: uuid.NewString,
		logger:   logger.Named("reconciler"),
	}
}

// Run executes one reconciliation run. apiKeyID scopes the run to one credential, 0 means all.
// An error is only returned when nothing could be processed: the public IP could not be resolved
// or the eligible records could not be read. Per record failures are reported in the Summary.
func (engine *Engine) Run(ctx context.Context, trigger types.TriggerType, apiKeyID int64) (*Summary, error) {
	summary := &Summary{
		RunID:     engine.newRunID(),
		Trigger:   trigger,
		StartedAt: engine.now().UTC(),
		Results:   []RecordResult{},
	}
	logger := engine.logger.With("runID", summary.RunID, "trigger", trigger)
	logger.Infow("Starting DDNS update check", "apiKeyID", apiKeyID)

	currentIP, err := engine.ip.CurrentIP(ctx)
	if err != nil {
		logger.Errorw("Failed to resolve current IP", "err", err)
		return nil, fmt.Errorf("failed to resolve current IP: %w", err)
	}
	summary.CurrentIP = currentIP
	logger.Infow("Resolved current IP", "ip", currentIP)

	eligible, err := engine.store.ListAutoUpdateEligible(ctx, apiKeyID)
	if err != nil {
		logger.Errorw("Failed to list auto-update records", "err", err)
		return nil, fmt.Errorf("failed to list auto-update records: %w", err)
	}
	summary.TotalEligible = len(eligible)
	logger.Infow("Found auto-update records", "count", len(eligible))

	clients := map[string]dns.Provider{}
	for _, record := range eligible {
		result := engine.reconcile(ctx, summary, record, clients)
		summary.add(result)
		logger.Infow("Processed record",
			"recordID", result.RecordID,
			"name", result.Name,
			"zone", result.ZoneName,
			"status", result.Status,
			"message", result.Message,
		)
	}

	summary.FinishedAt = engine.now().UTC()
	logger.Infow("DDNS update completed",
		"ip", currentIP,
		"total", summary.TotalEligible,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
	)
	return summary, nil
}

// NeedsUpdate reports whether record must be written to the provider for currentIP
// CNAME records always do, they get converted into A records
func NeedsUpdate(record types.DNSRecord, currentIP string) bool {
	return record.Type == types.TypeCNAME || record.Content != currentIP
}

// DesiredState computes the state record should have at the provider after the update
// The proxy flag is dropped when a proxied CNAME is converted
func DesiredState(record types.DNSRecord, currentIP string) (types.RecordState, bool) {
	proxyDisabled := record.Type == types.TypeCNAME && record.Proxied
	return types.RecordState{
		Type:    types.TypeA,
		Content: currentIP,
		Proxied: record.Proxied && !proxyDisabled,
	}, proxyDisabled
}

func (engine *Engine) reconcile(ctx context.Context, summary *Summary, eligible types.EligibleRecord, clients map[string]dns.Provider) RecordResult {
	record := eligible.Record
	result := RecordResult{
		RecordID:   record.ID,
		Name:       record.Name,
		ZoneName:   eligible.ZoneName,
		OldContent: record.Content,
		NewContent: summary.CurrentIP,
		OldType:    record.Type,
		NewType:    record.Type,
	}

	if !NeedsUpdate(record, summary.CurrentIP) {
		result.Status = StatusSkipped
		result.Message = msgUnchanged
		return result
	}

	state, proxyDisabled := DesiredState(record, summary.CurrentIP)
	result.NewType = state.Type
	result.TypeChanged = record.Type != state.Type
	result.ProxyDisabled = proxyDisabled

	client, err := engine.client(eligible.Token, clients)
	if err == nil {
		_, err = client.UpdateRecord(ctx, record.ZoneID, record.ID, dns.RecordParams{
			Name:    record.Name,
			Type:    state.Type,
			Content: state.Content,
			TTL:     record.TTL,
			Proxied: state.Proxied,
		})
	}
	if err != nil {
		return engine.fail(ctx, summary, result, err.Error())
	}

	// The provider accepted the change, only now the local mirror follows
	if err := engine.store.ApplyUpdate(ctx, record.ID, state); err != nil {
		return engine.fail(ctx, summary, result, fmt.Sprintf("provider updated but local state could not be saved: %v", err))
	}

	result.Status = StatusUpdated
	result.Message = msgUpdated
	if result.TypeChanged {
		result.Message = msgConverted
	}
	if proxyDisabled {
		result.Message += msgProxyDisabled
	}

	if err := engine.appendLog(ctx, summary, result, types.LogSuccess); err != nil {
		result.Status = StatusError
		result.Message = fmt.Sprintf("%s, but the update log could not be written: %v", result.Message, err)
	}
	return result
}

func (engine *Engine) fail(ctx context.Context, summary *Summary, result RecordResult, message string) RecordResult {
	result.Status = StatusError
	result.Message = message
	if err := engine.appendLog(ctx, summary, result, types.LogError); err != nil {
		engine.logger.Errorw("Failed to write error to update log", "recordID", result.RecordID, "err", err)
	}
	return result
}

func (engine *Engine) appendLog(ctx context.Context, summary *Summary, result RecordResult, status types.LogStatus) error {
	_, err := engine.store.AppendLog(ctx, types.UpdateLogEntry{
		RunID:       summary.RunID,
		RecordID:    result.RecordID,
		OldContent:  result.OldContent,
		NewContent:  result.NewContent,
		Status:      status,
		Message:     result.Message,
		TriggerType: summary.Trigger,
		CreatedAt:   engine.now().UTC(),
	})
	return err
}

// client returns the provider client for token, creating it once per run
func (engine *Engine) client(token string, clients map[string]dns.Provider) (dns.Provider, error) {
	if client, ok := clients[token]; ok {
		return client, nil
	}
	client, err := engine.factory(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}
	clients[token] = client
	return client, nil
}
