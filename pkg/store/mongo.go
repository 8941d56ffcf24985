package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	lendersCollection   = "lenders"
	borrowersCollection = "borrowers"
)

// MongoStore keeps lenders and borrowers as documents, using the field names
// of the original collections.
type MongoStore struct {
	client    *mongo.Client
	lenders   *mongo.Collection
	borrowers *mongo.Collection
}

type lenderStatsDoc struct {
	TotalMoneyLent  primitive.Decimal128 `bson:"totalMoneyLent"`
	MonthlyInterest primitive.Decimal128 `bson:"monthlyInterest"`
	ActiveLoans     int                  `bson:"activeLoans"`
	OnTimeRate      int                  `bson:"onTimeRate"`
}

type lenderDoc struct {
	ID           string         `bson:"_id"`
	Name         string         `bson:"name"`
	Email        string         `bson:"email"`
	PasswordHash string         `bson:"password"`
	Phone        string         `bson:"phone"`
	Stats        lenderStatsDoc `bson:"stats"`
	CreatedAt    time.Time      `bson:"createdAt"`
	UpdatedAt    time.Time      `bson:"updatedAt"`
}

type borrowerDoc struct {
	ID               string               `bson:"_id"`
	LenderID         string               `bson:"lenderId"`
	Name             string               `bson:"name"`
	Phone            string               `bson:"phone"`
	Address          string               `bson:"address"`
	Avatar           string               `bson:"avatar"`
	Principal        primitive.Decimal128 `bson:"amount"`
	InterestRate     primitive.Decimal128 `bson:"interestRate"`
	MonthlyPayment   primitive.Decimal128 `bson:"monthlyInterest"`
	UpfrontProfit    primitive.Decimal128 `bson:"upfrontProfit"`
	AccountStartDate time.Time            `bson:"dueDate"` // Account start; the collection kept the old name
	MonthsPaid       int                  `bson:"monthsPaid"`
	LastPaymentAt    *time.Time           `bson:"lastPaymentAt,omitempty"`
	Status           string               `bson:"status"`
	Progress         int                  `bson:"progress"`
	Version          int64                `bson:"version"`
	CreatedAt        time.Time            `bson:"createdAt"`
	UpdatedAt        time.Time            `bson:"updatedAt"`
}

// NewMongoStore connects to uri, checks the server is reachable and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("could not connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("could not ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		lenders:   db.Collection(lendersCollection),
		borrowers: db.Collection(borrowersCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	slog.Info("mongo store ready", "database", database)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.lenders.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create lender indexes: %w", err)
	}
	_, err = s.borrowers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "lenderId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create borrower indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateLender(ctx context.Context, l *models.Lender) error {
	doc, err := toLenderDoc(l)
	if err != nil {
		return err
	}
	if _, err := s.lenders.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create lender: %w", err)
	}
	return nil
}

func (s *MongoStore) GetLender(ctx context.Context, id uuid.UUID) (*models.Lender, error) {
	return s.findLender(ctx, bson.D{{Key: "_id", Value: id.String()}})
}

func (s *MongoStore) GetLenderByEmail(ctx context.Context, email string) (*models.Lender, error) {
	return s.findLender(ctx, bson.D{{Key: "email", Value: email}})
}

func (s *MongoStore) findLender(ctx context.Context, filter bson.D) (*models.Lender, error) {
	var doc lenderDoc
	if err := s.lenders.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get lender: %w", err)
	}
	return doc.toModel()
}

func (s *MongoStore) UpdateLender(ctx context.Context, l *models.Lender) error {
	res, err := s.lenders.UpdateOne(ctx, bson.D{{Key: "_id", Value: l.ID.String()}}, bson.D{{Key: "$set", Value: bson.D{
		{Key: "name", Value: l.Name},
		{Key: "email", Value: l.Email},
		{Key: "password", Value: l.PasswordHash},
		{Key: "phone", Value: l.Phone},
		{Key: "updatedAt", Value: l.UpdatedAt},
	}}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to update lender: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) UpdateLenderStats(ctx context.Context, id uuid.UUID, stats models.LenderStats, at time.Time) error {
	statsDoc, err := toStatsDoc(stats)
	if err != nil {
		return err
	}
	res, err := s.lenders.UpdateOne(ctx, bson.D{{Key: "_id", Value: id.String()}}, bson.D{{Key: "$set", Value: bson.D{
		{Key: "stats", Value: statsDoc},
		{Key: "updatedAt", Value: at},
	}}})
	if err != nil {
		return fmt.Errorf("failed to update lender stats: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CreateBorrower(ctx context.Context, b *models.Borrower) error {
	doc, err := toBorrowerDoc(b)
	if err != nil {
		return err
	}
	if _, err := s.borrowers.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create borrower: %w", err)
	}
	return nil
}

func borrowerKey(lenderID, id uuid.UUID) bson.D {
	return bson.D{{Key: "_id", Value: id.String()}, {Key: "lenderId", Value: lenderID.String()}}
}

func (s *MongoStore) GetBorrower(ctx context.Context, lenderID, id uuid.UUID) (*models.Borrower, error) {
	var doc borrowerDoc
	if err := s.borrowers.FindOne(ctx, borrowerKey(lenderID, id)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get borrower: %w", err)
	}
	return doc.toModel()
}

func (s *MongoStore) ListBorrowers(ctx context.Context, lenderID uuid.UUID, f BorrowerFilter) ([]*models.Borrower, int, error) {
	filter := bson.D{{Key: "lenderId", Value: lenderID.String()}}
	if f.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: string(f.Status)})
	}
	if f.Search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: re}},
			bson.D{{Key: "phone", Value: re}},
			bson.D{{Key: "address", Value: re}},
		}})
	}

	total, err := s.borrowers.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count borrowers: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit)).SetSkip(int64(f.Offset))
	}
	cur, err := s.borrowers.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list borrowers: %w", err)
	}
	var docs []borrowerDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode borrowers: %w", err)
	}

	borrowers := make([]*models.Borrower, 0, len(docs))
	for i := range docs {
		b, err := docs[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		borrowers = append(borrowers, b)
	}
	return borrowers, int(total), nil
}

func (s *MongoStore) UpdateBorrower(ctx context.Context, b *models.Borrower) error {
	doc, err := toBorrowerDoc(b)
	if err != nil {
		return err
	}
	filter := append(borrowerKey(b.LenderID, b.ID), bson.E{Key: "version", Value: b.Version})
	res, err := s.borrowers.UpdateOne(ctx, filter, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "name", Value: doc.Name},
			{Key: "phone", Value: doc.Phone},
			{Key: "address", Value: doc.Address},
			{Key: "amount", Value: doc.Principal},
			{Key: "interestRate", Value: doc.InterestRate},
			{Key: "monthlyInterest", Value: doc.MonthlyPayment},
			{Key: "upfrontProfit", Value: doc.UpfrontProfit},
			{Key: "dueDate", Value: doc.AccountStartDate},
			{Key: "monthsPaid", Value: doc.MonthsPaid},
			{Key: "status", Value: doc.Status},
			{Key: "progress", Value: doc.Progress},
			{Key: "updatedAt", Value: doc.UpdatedAt},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to update borrower: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetBorrower(ctx, b.LenderID, b.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	b.Version++
	return nil
}

func (s *MongoStore) UpdateBorrowerStatus(ctx context.Context, lenderID, id uuid.UUID, status models.Status) error {
	res, err := s.borrowers.UpdateOne(ctx, borrowerKey(lenderID, id), bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: string(status)},
	}}})
	if err != nil {
		return fmt.Errorf("failed to update borrower status: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteBorrower(ctx context.Context, lenderID, id uuid.UUID) error {
	res, err := s.borrowers.DeleteOne(ctx, borrowerKey(lenderID, id))
	if err != nil {
		return fmt.Errorf("failed to delete borrower: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPayment applies the increment with a pipeline update so the new
// status is computed from the stored count inside the same atomic write.
func (s *MongoStore) RecordPayment(ctx context.Context, lenderID, id uuid.UUID, p PaymentUpdate) (*models.Borrower, error) {
	filter := append(borrowerKey(lenderID, id), bson.E{Key: "monthsPaid", Value: bson.D{{Key: "$lt", Value: p.TermMonths}}})
	if p.ExpectedVersion != 0 {
		filter = append(filter, bson.E{Key: "version", Value: p.ExpectedVersion})
	}

	next := bson.D{{Key: "$add", Value: bson.A{"$monthsPaid", 1}}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "monthsPaid", Value: next},
			{Key: "lastPaymentAt", Value: p.PaidAt},
			{Key: "status", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$gte", Value: bson.A{next, p.TermMonths}}},
				string(models.StatusPaid),
				string(models.StatusCurrent),
			}}}},
			{Key: "progress", Value: bson.D{{Key: "$min", Value: bson.A{
				100,
				bson.D{{Key: "$toInt", Value: bson.D{{Key: "$divide", Value: bson.A{
					bson.D{{Key: "$multiply", Value: bson.A{next, 100}}},
					p.TermMonths,
				}}}}},
			}}}},
			{Key: "version", Value: bson.D{{Key: "$add", Value: bson.A{"$version", 1}}}},
			{Key: "updatedAt", Value: p.PaidAt},
		}}},
	}

	var doc borrowerDoc
	err := s.borrowers.FindOneAndUpdate(ctx, filter, pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, err := s.GetBorrower(ctx, lenderID, id)
		if err != nil {
			return nil, err
		}
		if current.MonthsPaid >= p.TermMonths {
			return nil, ErrLoanCompleted
		}
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	return doc.toModel()
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert %s to decimal128: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	// A missing field decodes as the zero Decimal128, which still parses as 0.
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert decimal128 %s: %w", v, err)
	}
	return d, nil
}

func toStatsDoc(s models.LenderStats) (lenderStatsDoc, error) {
	lent, err := toDecimal128(s.TotalMoneyLent)
	if err != nil {
		return lenderStatsDoc{}, err
	}
	monthly, err := toDecimal128(s.MonthlyInterest)
	if err != nil {
		return lenderStatsDoc{}, err
	}
	return lenderStatsDoc{TotalMoneyLent: lent, MonthlyInterest: monthly, ActiveLoans: s.ActiveLoans, OnTimeRate: s.OnTimeRate}, nil
}

func toLenderDoc(l *models.Lender) (*lenderDoc, error) {
	stats, err := toStatsDoc(l.Stats)
	if err != nil {
		return nil, err
	}
	return &lenderDoc{
		ID:           l.ID.String(),
		Name:         l.Name,
		Email:        l.Email,
		PasswordHash: l.PasswordHash,
		Phone:        l.Phone,
		Stats:        stats,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}, nil
}

func (d *lenderDoc) toModel() (*models.Lender, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt lender id %q: %w", d.ID, err)
	}
	lent, err := fromDecimal128(d.Stats.TotalMoneyLent)
	if err != nil {
		return nil, err
	}
	monthly, err := fromDecimal128(d.Stats.MonthlyInterest)
	if err != nil {
		return nil, err
	}
	return &models.Lender{
		ID:           id,
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Phone:        d.Phone,
		Stats: models.LenderStats{
			TotalMoneyLent:  lent,
			MonthlyInterest: monthly,
			ActiveLoans:     d.Stats.ActiveLoans,
			OnTimeRate:      d.Stats.OnTimeRate,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func toBorrowerDoc(b *models.Borrower) (*borrowerDoc, error) {
	amounts := make([]primitive.Decimal128, 4)
	for i, d := range []decimal.Decimal{b.Principal, b.InterestRate, b.MonthlyPayment, b.UpfrontProfit} {
		v, err := toDecimal128(d)
		if err != nil {
			return nil, err
		}
		amounts[i] = v
	}
	return &borrowerDoc{
		ID:               b.ID.String(),
		LenderID:         b.LenderID.String(),
		Name:             b.Name,
		Phone:            b.Phone,
		Address:          b.Address,
		Avatar:           b.Avatar,
		Principal:        amounts[0],
		InterestRate:     amounts[1],
		MonthlyPayment:   amounts[2],
		UpfrontProfit:    amounts[3],
		AccountStartDate: b.AccountStartDate,
		MonthsPaid:       b.MonthsPaid,
		LastPaymentAt:    b.LastPaymentAt,
		Status:           string(b.Status),
		Progress:         b.Progress,
		Version:          b.Version,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}, nil
}

func (d *borrowerDoc) toModel() (*models.Borrower, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt borrower id %q: %w", d.ID, err)
	}
	lenderID, err := uuid.Parse(d.LenderID)
	if err != nil {
		return nil, fmt.Errorf("corrupt lender id %q: %w", d.LenderID, err)
	}
	amounts := make([]decimal.Decimal, 4)
	for i, v := range []primitive.Decimal128{d.Principal, d.InterestRate, d.MonthlyPayment, d.UpfrontProfit} {
		if amounts[i], err = fromDecimal128(v); err != nil {
			return nil, err
		}
	}
	return &models.Borrower{
		ID:               id,
		LenderID:         lenderID,
		Name:             d.Name,
		Phone:            d.Phone,
		Address:          d.Address,
		Avatar:           d.Avatar,
		Principal:        amounts[0],
		InterestRate:     amounts[1],
		MonthlyPayment:   amounts[2],
		UpfrontProfit:    amounts[3],
		AccountStartDate: d.AccountStartDate.UTC(),
		MonthsPaid:       d.MonthsPaid,
		LastPaymentAt:    d.LastPaymentAt,
		Status:           models.Status(d.Status),
		Progress:         d.Progress,
		Version:          d.Version,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}, nil
}
