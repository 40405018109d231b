package dashboard

import (
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/leadrelay/internal/model"
	"github.com/capitalize-ai/leadrelay/pkg/logger"
)

// DefaultLeadListSize caps the local lead list.
const DefaultLeadListSize = 500

// LeadList is a session's newest-first list of leads.
type LeadList struct {
	mu    sync.RWMutex
	max   int
	leads []model.Lead
	ids   map[string]struct{}
}

// NewLeadList creates a list holding at most max leads. A non-positive max uses
// DefaultLeadListSize.
func NewLeadList(max int) *LeadList {
	if max <= 0 {
		max = DefaultLeadListSize
	}
	return &LeadList{max: max, ids: make(map[string]struct{})}
}

// Prepend adds lead at the front. It returns false if a lead with the same id is
// already listed.
func (l *LeadList) Prepend(lead model.Lead) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lead.ID != "" {
		if _, ok := l.ids[lead.ID]; ok {
			return false
		}
		l.ids[lead.ID] = struct{}{}
	}
	l.leads = append([]model.Lead{lead}, l.leads...)
	if len(l.leads) > l.max {
		for _, dropped := range l.leads[l.max:] {
			delete(l.ids, dropped.ID)
		}
		l.leads = l.leads[:l.max]
	}
	return true
}

// Replace sets the list contents, typically from an initial fetch.
func (l *LeadList) Replace(leads []model.Lead) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(leads) > l.max {
		leads = leads[:l.max]
	}
	l.leads = append([]model.Lead(nil), leads...)
	l.ids = make(map[string]struct{}, len(l.leads))
	for _, lead := range l.leads {
		l.ids[lead.ID] = struct{}{}
	}
}

// Snapshot returns a copy of the list.
func (l *LeadList) Snapshot() []model.Lead {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.Lead(nil), l.leads...)
}

// Len returns the number of listed leads.
func (l *LeadList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.leads)
}

// Notifier raises a user-visible notice for a newly arrived lead.
type Notifier interface {
	LeadArrived(lead model.Lead)
}

// NopNotifier discards notices.
type NopNotifier struct{}

func (NopNotifier) LeadArrived(model.Lead) {}

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger *logger.Logger
}

func (n LogNotifier) LeadArrived(lead model.Lead) {
	n.Logger.Info("new lead",
		zap.String("lead_id", lead.ID),
		zap.String("name", lead.Name),
		zap.String("area", lead.Area),
		zap.String("disposition", lead.Disposition),
	)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(lead model.Lead)

func (f NotifierFunc) LeadArrived(lead model.Lead) { f(lead) }
