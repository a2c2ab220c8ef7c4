package app

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/feedrelay/hub/db"
	"github.com/feedrelay/hub/internal/keys"
	"github.com/feedrelay/hub/internal/taskqueue"
)

// entryDiffChunkSize is spec.md §4.7 step 2's "in chunks of 500" diff lookup
// batch size.
const entryDiffChunkSize = 500

// EventBuilder implements spec.md §4.7: parse a fetched feed body in
// format-biased order, diff entries against stored FeedEntryRecords, cap
// and page oversized bursts, splice the new entries into an envelope, and
// commit the whole update in one transaction.
type EventBuilder struct {
	db         db.Querier
	dispatcher *taskqueue.Dispatcher
	cfg        eventBuilderConfig

	ambiguousContentType atomic.Int64
}

type eventBuilderConfig struct {
	MaxEntriesPerEvent int
	MaxDeliveryAttempts int
}

func NewEventBuilder(a *Application) *EventBuilder {
	return &EventBuilder{
		db:         a.DB,
		dispatcher: a.Dispatcher,
		cfg: eventBuilderConfig{
			MaxEntriesPerEvent:  a.Config.MaxEntriesPerEvent,
			MaxDeliveryAttempts: a.Config.MaxDeliveryAttempts,
		},
	}
}

// parsedEntry is one feed entry/item extracted from a fetched body, along
// with the raw XML it was found in (arbitrary content has no entries).
type parsedEntry struct {
	id      string
	rawXML  []byte
}

// parsedFeed is the outcome of attempting one format's parser.
type parsedFeed struct {
	format       string // "atom" | "rss" | "rdf" | "arbitrary"
	contentType  string
	headerFooter []byte // envelope with entries/items removed, for splicing
	entries      []parsedEntry
}

// Build implements spec.md §4.7. Given the FeedRecord before this fetch and
// the freshly fetched response, it diffs, splices, and commits the update,
// then enqueues the delivery task for the resulting event.
func (b *EventBuilder) Build(ctx context.Context, topic, topicHash string, record db.FeedRecord, headers http.Header, body []byte) error {
	parsed, ok := b.parse(record, body)
	if !ok {
		return nil // all formats failed or encoding lookup failed: give up silently (spec.md §4.7 step 1)
	}
	b.recordContentType(headers.Get("Content-Type"), parsed.format)

	changed, partial, err := b.diff(ctx, topicHash, parsed.entries)
	if err != nil {
		return fmt.Errorf("diff entries: %w", err)
	}
	if len(changed) == 0 && parsed.format != "arbitrary" {
		// No new or updated entries: still refresh conditional-GET validators.
		return b.commitNoOpUpdate(ctx, topic, topicHash, parsed, headers)
	}

	payload := b.splice(parsed, changed)

	entries := make([]db.FeedEntryWrite, 0, len(changed))
	for _, c := range changed {
		entries = append(entries, db.FeedEntryWrite{
			EntryIDHash:  keys.Hash(c.id),
			EntryPayload: c.rawXML,
			EntryHash:    sha1Hex(c.rawXML),
		})
	}

	eventID := pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true}
	taskID := pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true}

	event, err := b.db.CommitFeedUpdate(ctx, db.CommitFeedUpdateParams{
		FeedRecord: db.UpsertFeedRecordParams{
			TopicHash:    topicHash,
			Topic:        topic,
			HeaderFooter: textOrInvalid(string(parsed.headerFooter)),
			Format:       textOrInvalid(parsed.format),
			ContentType:  textOrInvalid(parsed.contentType),
			Etag:         textOrInvalid(headers.Get("ETag")),
			LastModified: textOrInvalid(headers.Get("Last-Modified")),
			ContentHash:  textOrInvalid(sha1Hex(body)),
		},
		Entries: entries,
		Event: db.InsertEventToDeliverParams{
			ID:              eventID,
			TopicHash:       topicHash,
			Topic:           topic,
			Payload:         payload,
			ContentType:     parsed.contentType,
			FailedCallbacks: nil,
			MaxFailures:     int32(b.cfg.MaxDeliveryAttempts),
			NextAttempt:     pgtype.Timestamptz{Time: time.Now(), Valid: true},
		},
		Task: db.EnqueueTaskParams{
			ID:      taskID,
			Queue:   taskqueue.QueueDelivery,
			Name:    "deliver-" + eventID.String(),
			EtaTime: pgtype.Timestamptz{Time: time.Now(), Valid: true},
			Payload: []byte(eventID.String()),
		},
	})
	if err != nil {
		return fmt.Errorf("commit feed update: %w", err)
	}
	_ = event

	if partial {
		// Re-enqueue a single-topic pull so the remainder (beyond
		// MaxEntriesPerEvent) is re-fetched, re-diffed, and emitted as a
		// separate event (spec.md §4.7 step 3's natural paging of large
		// bursts). Routed to the retry lane, not the fork-join batch queue,
		// since this is a direct single-topic follow-up.
		if err := b.dispatcher.Enqueue(ctx, taskqueue.QueueFeedPullRetry, "pull-remainder-"+topicHash, time.Now(), []byte(topic)); err != nil {
			return fmt.Errorf("enqueue remainder pull: %w", err)
		}
	}
	return nil
}

func (b *EventBuilder) commitNoOpUpdate(ctx context.Context, topic, topicHash string, parsed parsedFeed, headers http.Header) error {
	_, err := b.db.UpsertFeedRecord(ctx, db.UpsertFeedRecordParams{
		TopicHash:    topicHash,
		Topic:        topic,
		HeaderFooter: textOrInvalid(string(parsed.headerFooter)),
		Format:       textOrInvalid(parsed.format),
		ContentType:  textOrInvalid(parsed.contentType),
		Etag:         textOrInvalid(headers.Get("ETag")),
		LastModified: textOrInvalid(headers.Get("Last-Modified")),
	})
	return err
}

// parse tries formats in bias order (spec.md §4.7 step 1: "(atom, rss,
// arbitrary) normally, (rss, atom, arbitrary) if the record indicates RSS").
// RDF/RSS-1.0 is tried as an additional fallback ahead of arbitrary, without
// disturbing that documented atom/rss bias.
func (b *EventBuilder) parse(record db.FeedRecord, body []byte) (parsedFeed, bool) {
	order := []string{"atom", "rss", "rdf", "arbitrary"}
	if record.Format.Valid && record.Format.String == "rss" {
		order = []string{"rss", "atom", "rdf", "arbitrary"}
	}

	for _, format := range order {
		switch format {
		case "atom":
			if pf, ok := parseAtom(body); ok {
				return pf, true
			}
		case "rss":
			if pf, ok := parseRSS(body); ok {
				return pf, true
			}
		case "rdf":
			if pf, ok := parseRDF(body); ok {
				return pf, true
			}
		case "arbitrary":
			return parsedFeed{format: "arbitrary", contentType: "application/octet-stream", headerFooter: body}, true
		}
	}
	return parsedFeed{}, false
}

type atomXML struct {
	XMLName xml.Name      `xml:"feed"`
	ID      string        `xml:"id"`
	Entries []atomEntryXML `xml:"entry"`
}

type atomEntryXML struct {
	ID      string `xml:"id"`
	Updated string `xml:"updated"`
	InnerXML []byte `xml:",innerxml"`
}

func parseAtom(body []byte) (parsedFeed, bool) {
	var feed atomXML
	if err := xml.Unmarshal(body, &feed); err != nil {
		return parsedFeed{}, false
	}
	entries := make([]parsedEntry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		id := e.ID
		if id == "" {
			continue
		}
		entries = append(entries, parsedEntry{id: id, rawXML: append([]byte("<entry>"), append(e.InnerXML, []byte("</entry>")...)...)})
	}
	idx := bytes.LastIndex(body, []byte("</feed>"))
	header := body
	if idx >= 0 {
		header = body[:idx]
	}
	return parsedFeed{format: "atom", contentType: "application/atom+xml", headerFooter: header, entries: entries}, true
}

type rssXML struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Link  string       `xml:"link"`
		Items []rssItemXML `xml:"item"`
	} `xml:"channel"`
}

type rssItemXML struct {
	GUID     string `xml:"guid"`
	Link     string `xml:"link"`
	InnerXML []byte `xml:",innerxml"`
}

func parseRSS(body []byte) (parsedFeed, bool) {
	var rss rssXML
	if err := xml.Unmarshal(body, &rss); err != nil {
		return parsedFeed{}, false
	}
	entries := make([]parsedEntry, 0, len(rss.Channel.Items))
	for _, it := range rss.Channel.Items {
		id := it.GUID
		if id == "" {
			id = it.Link
		}
		if id == "" {
			continue
		}
		entries = append(entries, parsedEntry{id: id, rawXML: append([]byte("<item>"), append(it.InnerXML, []byte("</item>")...)...)})
	}
	idx := bytes.LastIndex(body, []byte("</channel>"))
	header := body
	if idx >= 0 {
		header = body[:idx]
	}
	return parsedFeed{format: "rss", contentType: "application/rss+xml", headerFooter: header, entries: entries}, true
}

// rdfXML covers RSS 1.0 (RDF) documents: items sit as direct children of the
// RDF root rather than nested under a channel element, the way RSS 2.0 nests
// them.
type rdfXML struct {
	XMLName xml.Name `xml:"RDF"`
	Channel struct {
		Link string `xml:"link"`
	} `xml:"channel"`
	Items []rssItemXML `xml:"item"`
}

func parseRDF(body []byte) (parsedFeed, bool) {
	var rdf rdfXML
	if err := xml.Unmarshal(body, &rdf); err != nil {
		return parsedFeed{}, false
	}
	entries := make([]parsedEntry, 0, len(rdf.Items))
	for _, it := range rdf.Items {
		id := it.GUID
		if id == "" {
			id = it.Link
		}
		if id == "" {
			continue
		}
		entries = append(entries, parsedEntry{id: id, rawXML: append([]byte("<item>"), append(it.InnerXML, []byte("</item>")...)...)})
	}
	idx := bytes.LastIndex(body, []byte("</rdf:RDF>"))
	if idx < 0 {
		idx = bytes.LastIndex(body, []byte("</RDF>"))
	}
	header := body
	if idx >= 0 {
		header = body[:idx]
	}
	return parsedFeed{format: "rdf", contentType: "application/rdf+xml", headerFooter: header, entries: entries}, true
}

// classifyContentType substring-matches a Content-Type header against the
// formats the hub recognizes. Ambiguous (zero or multiple matches) content
// types are reported so Build can count how often the header disagrees with
// or fails to predict the body's actual format (SPEC_FULL.md §D).
func classifyContentType(contentType string) (format string, ambiguous bool) {
	ct := strings.ToLower(contentType)
	var matches []string
	for _, f := range []string{"atom", "rss", "rdf"} {
		if strings.Contains(ct, f) {
			matches = append(matches, f)
		}
	}
	if len(matches) != 1 {
		return "", true
	}
	return matches[0], false
}

// recordContentType tallies a Content-Type/parsed-format disagreement into
// the ambiguous-content-type counter (SPEC_FULL.md §D).
func (b *EventBuilder) recordContentType(contentType, parsedFormat string) {
	sniffed, ambiguous := classifyContentType(contentType)
	if ambiguous || sniffed != parsedFormat {
		b.ambiguousContentType.Add(1)
	}
}

// AmbiguousContentTypeCount reports how many fetched bodies were parsed
// despite an ambiguous or disagreeing Content-Type header.
func (b *EventBuilder) AmbiguousContentTypeCount() int64 {
	return b.ambiguousContentType.Load()
}

// ExtractFeedID recovers a feed's self-identifying id — Atom's top-level
// <id>, else RSS's channel <link>, else RDF's channel <link> — for use by
// RecordFeedHandler (spec.md §4.9).
func ExtractFeedID(body []byte) (string, bool) {
	var atom atomXML
	if err := xml.Unmarshal(body, &atom); err == nil && atom.ID != "" {
		return atom.ID, true
	}
	var rss rssXML
	if err := xml.Unmarshal(body, &rss); err == nil && rss.Channel.Link != "" {
		return rss.Channel.Link, true
	}
	var rdf rdfXML
	if err := xml.Unmarshal(body, &rdf); err == nil && rdf.Channel.Link != "" {
		return rdf.Channel.Link, true
	}
	return "", false
}

// diff implements spec.md §4.7 step 2/3: look up each chunk's stored hashes
// in one batched query, keep entries whose sha1 differs (or are unseen), and
// cap the result at MaxEntriesPerEvent.
func (b *EventBuilder) diff(ctx context.Context, topicHash string, entries []parsedEntry) (changed []parsedEntry, partial bool, err error) {
	for chunk := range slices.Chunk(entries, entryDiffChunkSize) {
		hashes := make([]string, len(chunk))
		for i, e := range chunk {
			hashes[i] = keys.Hash(e.id)
		}
		existing, lookupErr := b.db.GetFeedEntries(ctx, topicHash, hashes)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("get feed entries: %w", lookupErr)
		}
		storedHash := make(map[string]string, len(existing))
		for _, rec := range existing {
			storedHash[rec.EntryIDHash] = rec.EntryHash
		}

		for i, e := range chunk {
			if stored, ok := storedHash[hashes[i]]; ok && stored == sha1Hex(e.rawXML) {
				continue // unchanged
			}
			changed = append(changed, e)
		}
	}
	if len(changed) > b.cfg.MaxEntriesPerEvent {
		changed = changed[:b.cfg.MaxEntriesPerEvent]
		partial = true
	}
	return changed, partial, nil
}

// splice implements spec.md §4.7 step 4: insert the changed entries'
// raw XML between the stored header/footer's closing tag and the document
// end, prepending the XML declaration for XML formats.
func (b *EventBuilder) splice(parsed parsedFeed, changed []parsedEntry) []byte {
	if parsed.format == "arbitrary" {
		return parsed.headerFooter
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.Write(parsed.headerFooter)
	for _, e := range changed {
		buf.Write(e.rawXML)
	}
	switch parsed.format {
	case "atom":
		buf.WriteString("</feed>")
	case "rss":
		buf.WriteString("</channel></rss>")
	case "rdf":
		buf.WriteString("</rdf:RDF>")
	}
	return buf.Bytes()
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}
