// Package testing provides test utilities and database setup for the segmentation service
package testing

import (
	"encoding/json"
	"time"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/utils"
	"gorm.io/datatypes"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateContragent creates a customer of the tenant
func (tf *TestFixtures) CreateContragent(cashboxID int64, name string) (*models.Contragent, error) {
	c := &models.Contragent{CashboxID: cashboxID, Name: name, CreatedAt: utils.UTCNow()}
	if err := tf.DB.DB.Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// DocumentOption customizes a document before it is inserted
type DocumentOption func(*models.SalesDocument)

func WithSum(sum, paid float64) DocumentOption {
	return func(d *models.SalesDocument) {
		d.Sum = sum
		d.PaidRubles = paid
	}
}

func WithStatus(status string) DocumentOption {
	return func(d *models.SalesDocument) { d.OrderStatus = status }
}

func WithCreatedAt(t time.Time) DocumentOption {
	return func(d *models.SalesDocument) {
		d.CreatedAt = t.UTC()
		d.UpdatedAt = t.UTC()
	}
}

func WithPicker(userID int64, started *time.Time) DocumentOption {
	return func(d *models.SalesDocument) {
		d.AssignedPicker = &userID
		d.PickerStartedAt = utils.TimeToUTCPtr(started)
	}
}

func WithCourier(userID int64) DocumentOption {
	return func(d *models.SalesDocument) { d.AssignedCourier = &userID }
}

// CreateDocument creates a sales document; a zero contragentID leaves it anonymous
func (tf *TestFixtures) CreateDocument(cashboxID, contragentID int64, opts ...DocumentOption) (*models.SalesDocument, error) {
	now := utils.UTCNow()
	d := &models.SalesDocument{
		CashboxID:   cashboxID,
		OrderStatus: "new",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if contragentID != 0 {
		d.ContragentID = &contragentID
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := tf.DB.DB.Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDocuments creates n documents for one contragent
func (tf *TestFixtures) CreateDocuments(cashboxID, contragentID int64, n int, opts ...DocumentOption) ([]*models.SalesDocument, error) {
	out := make([]*models.SalesDocument, 0, n)
	for i := 0; i < n; i++ {
		d, err := tf.CreateDocument(cashboxID, contragentID, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// CreateGood attaches a line item whose nomenclature belongs to the named category
func (tf *TestFixtures) CreateGood(cashboxID, documentID int64, nomenclature, category string, quantity, price float64) (*models.SalesDocumentGood, error) {
	cat := &models.Category{CashboxID: cashboxID, Name: category}
	if err := tf.DB.DB.Create(cat).Error; err != nil {
		return nil, err
	}
	nom := &models.Nomenclature{CashboxID: cashboxID, Name: nomenclature, CategoryID: &cat.ID}
	if err := tf.DB.DB.Create(nom).Error; err != nil {
		return nil, err
	}
	g := &models.SalesDocumentGood{DocsSalesID: documentID, NomenclatureID: nom.ID, Quantity: quantity, Price: price}
	if err := tf.DB.DB.Create(g).Error; err != nil {
		return nil, err
	}
	return g, nil
}

func (tf *TestFixtures) CreateDeliveryInfo(info *models.DeliveryInfo) error {
	return tf.DB.DB.Create(info).Error
}

func (tf *TestFixtures) CreateDocumentTag(cashboxID, documentID int64, name string) error {
	return tf.DB.DB.Create(&models.DocumentTag{CashboxID: cashboxID, DocsSalesID: documentID, Name: name, CreatedAt: utils.UTCNow()}).Error
}

func (tf *TestFixtures) CreateContragentTag(cashboxID, contragentID int64, name string) error {
	return tf.DB.DB.Create(&models.ContragentTag{CashboxID: cashboxID, ContragentID: contragentID, Name: name, CreatedAt: utils.UTCNow()}).Error
}

// CreateLoyaltyCard creates a card; lifetime is in seconds
func (tf *TestFixtures) CreateLoyaltyCard(cashboxID, contragentID int64, balance float64, lifetime int64, lastOperation *time.Time) (*models.LoyaltyCard, error) {
	now := utils.UTCNow()
	c := &models.LoyaltyCard{
		CashboxID:       cashboxID,
		ContragentID:    contragentID,
		Balance:         balance,
		Lifetime:        lifetime,
		LastOperationAt: utils.TimeToUTCPtr(lastOperation),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tf.DB.DB.Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (tf *TestFixtures) CreateCashboxUser(u *models.CashboxUser) error {
	return tf.DB.DB.Create(u).Error
}

// CreateSegment stores a segment with the given criteria and actions documents
func (tf *TestFixtures) CreateSegment(cashboxID int64, name string, criteria, actions any) (*models.Segment, error) {
	c, err := json.Marshal(criteria)
	if err != nil {
		return nil, err
	}
	a, err := json.Marshal(actions)
	if err != nil {
		return nil, err
	}
	now := utils.UTCNow()
	s := &models.Segment{
		CashboxID:    cashboxID,
		Name:         name,
		Criteria:     datatypes.JSON(c),
		Actions:      datatypes.JSON(a),
		Status:       models.SegmentStatusInProcess,
		TypeOfUpdate: models.SegmentUpdateManual,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tf.DB.DB.Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}
