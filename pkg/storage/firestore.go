package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Every record is stored as a JSON blob under streams/{streamID}.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// project ID may be inferred from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(streamID, name string) (*firestore.CollectionRef, error) {
	if streamID == "" {
		return nil, fmt.Errorf("streamID cannot be empty")
	}
	return f.client.Collection("streams").Doc(streamID).Collection(name), nil
}

func insightCollection(kind types.InsightKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown insight kind: %s", kind)
	}
	return "insights_" + string(kind), nil
}

// decodeJSON unmarshals the "json" field of doc into v.
func decodeJSON(ctx context.Context, doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("path", doc.Ref.Path))
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc json", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document (id=%s): %w", doc.Ref.ID, err)
	}
	return nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context, streamID string) (types.Settings, int, error) {
	coll, err := f.getCollection(streamID, "config")
	if err != nil {
		return types.Settings{}, 0, err
	}
	doc, err := coll.Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	var s types.Settings
	if err := decodeJSON(ctx, doc, &s); err != nil {
		return types.Settings{}, 0, err
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, streamID string, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	coll, err := f.getCollection(streamID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// InsertInsight adds an insight to its kind's collection as a JSON blob.
// The document ID is the fixed-width timestamp for efficient range queries.
func (f *FirestoreProvider) InsertInsight(ctx context.Context, streamID string, insight types.Insight) error {
	if insight.Timestamp.IsZero() {
		return fmt.Errorf("insight missing timestamp")
	}
	name, err := insightCollection(insight.Kind)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(insight)
	if err != nil {
		return fmt.Errorf("failed to marshal insight: %w", err)
	}

	coll, err := f.getCollection(streamID, name)
	if err != nil {
		return err
	}
	_, err = coll.Doc(timeDocID(insight.Timestamp)).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": insight.Timestamp,
		"version":   types.CurrentInsightVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to insert insight: %w", err)
	}
	return nil
}

// GetInsightHistory retrieves insights of kind within [start, end).
// Uses document ID range queries for efficient filtering without reading all documents.
func (f *FirestoreProvider) GetInsightHistory(ctx context.Context, streamID string, kind types.InsightKind, start, end time.Time) ([]types.Insight, error) {
	name, err := insightCollection(kind)
	if err != nil {
		return nil, err
	}
	coll, err := f.getCollection(streamID, name)
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(timeDocID(start))).
		Where(firestore.DocumentID, "<", coll.Doc(timeDocID(end))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var insights []types.Insight
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating insights: %w", err)
		}

		var ins types.Insight
		if err := decodeJSON(ctx, doc, &ins); err != nil {
			return nil, err
		}
		insights = append(insights, ins)
	}
	return insights, nil
}

// GetLatestInsight returns the most recent insight of kind or nil if there
// are none.
func (f *FirestoreProvider) GetLatestInsight(ctx context.Context, streamID string, kind types.InsightKind) (*types.Insight, error) {
	name, err := insightCollection(kind)
	if err != nil {
		return nil, err
	}
	coll, err := f.getCollection(streamID, name)
	if err != nil {
		return nil, err
	}

	// firestore automatically creates indexes for top-level fields
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest insight doc: %w", err)
	}

	var ins types.Insight
	if err := decodeJSON(ctx, doc, &ins); err != nil {
		return nil, err
	}
	return &ins, nil
}

// ListDevices returns every device of the stream ordered by creation.
func (f *FirestoreProvider) ListDevices(ctx context.Context, streamID string) ([]types.Device, error) {
	coll, err := f.getCollection(streamID, "devices")
	if err != nil {
		return nil, err
	}
	iter := coll.Documents(ctx)
	defer iter.Stop()

	var devices []types.Device
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating devices: %w", err)
		}

		var d types.Device
		if err := decodeJSON(ctx, doc, &d); err != nil {
			// Skip malformed documents
			continue
		}
		devices = append(devices, d)
	}
	sortDevices(devices)
	return devices, nil
}

// GetDevice retrieves a single device.
func (f *FirestoreProvider) GetDevice(ctx context.Context, streamID, deviceID string) (types.Device, error) {
	coll, err := f.getCollection(streamID, "devices")
	if err != nil {
		return types.Device{}, err
	}
	doc, err := coll.Doc(deviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		return types.Device{}, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}

	var d types.Device
	if err := decodeJSON(ctx, doc, &d); err != nil {
		return types.Device{}, err
	}
	return d, nil
}

// UpsertDevice creates or replaces a device.
func (f *FirestoreProvider) UpsertDevice(ctx context.Context, streamID string, device types.Device) error {
	if device.ID == "" {
		return fmt.Errorf("device missing id")
	}
	jsonBytes, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device %s: %w", device.ID, err)
	}
	coll, err := f.getCollection(streamID, "devices")
	if err != nil {
		return err
	}
	_, err = coll.Doc(device.ID).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", device.ID, err)
	}
	return nil
}

// DeleteDevice removes a device. Deleting a missing device returns
// ErrDeviceNotFound.
func (f *FirestoreProvider) DeleteDevice(ctx context.Context, streamID, deviceID string) error {
	coll, err := f.getCollection(streamID, "devices")
	if err != nil {
		return err
	}
	_, err = coll.Doc(deviceID).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		return fmt.Errorf("failed to delete device %s: %w", deviceID, err)
	}
	return nil
}
