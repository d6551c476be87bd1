package indexdb

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collRegistry = "registry_entries"
	collRemaps   = "remaps"
	collVisits   = "visits"
	collEntries  = "chronicle_entries"
	collTurns    = "turns"

	mongoOpTimeout = 5 * time.Second
	mongoRetries   = 3
)

// MongoIndex mirrors the SQLite tables as collections. Every row is upserted
// under a deterministic _id so replays are idempotent.
type MongoIndex struct {
	client *mongo.Client
	db     *mongo.Database
	q      *queue
	logger *log.Logger

	wg   sync.WaitGroup
	once sync.Once
}

func OpenMongo(ctx context.Context, uri, database string, logger *log.Logger) (*MongoIndex, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty mongo uri")
	}
	if database == "" {
		database = "loreweave"
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	m := &MongoIndex{
		client: client,
		db:     client.Database(database),
		q:      newQueue(defaultQueue),
		logger: logger,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop()
	}()
	return m, nil
}

func (m *MongoIndex) Close() error {
	var err error
	m.once.Do(func() {
		m.q.closed.Store(true)
		close(m.q.ch)
		m.wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = m.client.Disconnect(ctx)
	})
	return err
}

func (m *MongoIndex) Stats() QueueStats { return m.q.stats() }

func (m *MongoIndex) RecordRegistry(entries []RegistryRow, remaps []RemapRow) {
	m.q.offer(req{kind: reqRegistry, registry: entries, remaps: remaps})
}

func (m *MongoIndex) RecordVisit(v VisitRow) { m.q.offer(req{kind: reqVisit, visit: v}) }
func (m *MongoIndex) RecordEntry(e EntryRow) { m.q.offer(req{kind: reqEntry, entry: e}) }
func (m *MongoIndex) RecordTurn(t TurnRow)   { m.q.offer(req{kind: reqTurn, turn: t}) }

func (m *MongoIndex) loop() {
	for r := range m.q.ch {
		for _, d := range documents(r) {
			if err := m.upsert(d); err != nil && m.logger != nil {
				m.logger.Printf("index upsert %s/%s: %v", d.coll, d.id, err)
			}
		}
	}
}

type document struct {
	coll string
	id   string
	body any
}

// documents flattens one queued request into collection writes.
func documents(r req) []document {
	var out []document
	switch r.kind {
	case reqRegistry:
		for _, e := range r.registry {
			out = append(out, document{coll: collRegistry, id: e.Kind + ":" + e.GlobalID, body: e})
		}
		for _, rm := range r.remaps {
			out = append(out, document{coll: collRemaps, id: rm.Package + ":" + rm.Kind + ":" + rm.From, body: rm})
		}
	case reqVisit:
		v := r.visit
		out = append(out, document{coll: collVisits, id: v.SaveID + ":" + v.Package + ":" + strconv.Itoa(v.Number), body: v})
	case reqEntry:
		e := r.entry
		out = append(out, document{coll: collEntries, id: e.SaveID + ":" + strconv.Itoa(e.Index), body: e})
	case reqTurn:
		t := r.turn
		out = append(out, document{coll: collTurns, id: t.SaveID + ":" + strconv.FormatUint(t.Turn, 10), body: t})
	}
	return out
}

func (m *MongoIndex) upsert(d document) error {
	var err error
	for attempt := 0; attempt < mongoRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
		_, err = m.db.Collection(d.coll).UpdateOne(ctx,
			bson.M{"_id": d.id},
			bson.M{"$set": d.body},
			options.Update().SetUpsert(true),
		)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return err
}
