package segmentation

import (
	"context"
	"sync"
	"time"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
	"github.com/amirphl/segment-engine/utils"
)

// Memo caches lookups for one recomputation cycle. It is passed by reference
// through the evaluator and the dispatcher and discarded afterwards.
type Memo struct {
	Now time.Time

	mu                sync.Mutex
	docContragent     map[int64]*int64
	cardsByContragent map[int64][]*models.LoyaltyCard
	cardsLoaded       map[int64]bool
	recipients        map[int64][]*models.CashboxUser
}

func NewMemo(now time.Time) *Memo {
	if now.IsZero() {
		now = utils.UTCNow()
	}
	return &Memo{
		Now:               now.UTC(),
		docContragent:     make(map[int64]*int64),
		cardsByContragent: make(map[int64][]*models.LoyaltyCard),
		cardsLoaded:       make(map[int64]bool),
		recipients:        make(map[int64][]*models.CashboxUser),
	}
}

// Contragents resolves document ids to their owners. Documents without a contragent map to nil.
func (m *Memo) Contragents(ctx context.Context, docs repository.SalesDocumentRepository, documentIDs []int64) (map[int64]*int64, error) {
	m.mu.Lock()
	var missing []int64
	for _, id := range documentIDs {
		if _, ok := m.docContragent[id]; !ok {
			missing = append(missing, id)
		}
	}
	m.mu.Unlock()

	if len(missing) > 0 {
		pairs, err := docs.ContragentsOf(ctx, missing)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		for _, id := range missing {
			m.docContragent[id] = nil
		}
		for _, p := range pairs {
			cid := p.ContragentID
			m.docContragent[p.DocumentID] = &cid
		}
		m.mu.Unlock()
	}

	out := make(map[int64]*int64, len(documentIDs))
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range documentIDs {
		out[id] = m.docContragent[id]
	}
	return out, nil
}

// Cards returns the non-deleted loyalty cards of the given contragents
func (m *Memo) Cards(ctx context.Context, loyalty repository.LoyaltyRepository, cashboxID int64, contragentIDs []int64) (map[int64][]*models.LoyaltyCard, error) {
	m.mu.Lock()
	var missing []int64
	for _, id := range contragentIDs {
		if !m.cardsLoaded[id] {
			missing = append(missing, id)
		}
	}
	m.mu.Unlock()

	if len(missing) > 0 {
		cards, err := loyalty.CardsByFilter(ctx, models.LoyaltyCardFilter{
			CashboxID:     &cashboxID,
			ContragentIDs: missing,
			IsDeleted:     utils.ToPtr(false),
		})
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		for _, id := range missing {
			m.cardsLoaded[id] = true
		}
		for _, c := range cards {
			m.cardsByContragent[c.ContragentID] = append(m.cardsByContragent[c.ContragentID], c)
		}
		m.mu.Unlock()
	}

	out := make(map[int64][]*models.LoyaltyCard, len(contragentIDs))
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range contragentIDs {
		if cards := m.cardsByContragent[id]; len(cards) > 0 {
			out[id] = cards
		}
	}
	return out, nil
}

// Recipients returns the active users of a tenant
func (m *Memo) Recipients(ctx context.Context, users repository.CashboxUserRepository, cashboxID int64) ([]*models.CashboxUser, error) {
	m.mu.Lock()
	cached, ok := m.recipients[cashboxID]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}
	list, err := users.ListActive(ctx, cashboxID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.recipients[cashboxID] = list
	m.mu.Unlock()
	return list, nil
}
