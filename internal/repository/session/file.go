package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/oshokin/wits/internal/config"
	"github.com/oshokin/wits/internal/domain/wits"
)

const (
	fieldDeviceName     = "deviceName"
	fieldAppInstallPath = "appInstallPath"
	fieldAddress        = "address"
	fieldConnectedAt    = "connectedAt"
)

// ErrNotFound is returned when no session has been stored yet.
var ErrNotFound = errors.New("session not found")

// Record is the stored outcome of a device connection.
type Record struct {
	// Device is the resolved device.
	Device wits.DeviceInfo
	// Address is the address the connection was requested for.
	Address string
	// ConnectedAt is when the device was resolved.
	ConnectedAt time.Time
}

// Repository defines persistence operations for device sessions.
type Repository interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, record *Record) error
}

// FileRepository persists the session to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the session file.
	path string
	// mu protects concurrent access to the session file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the session from disk.
func (r *FileRepository) Load(_ context.Context) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read session file: %w", err)
	}

	var protoRecord structpb.Struct
	if err = protojson.Unmarshal(contents, &protoRecord); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}

	return fromProto(&protoRecord)
}

// Save writes the session to disk using JSON representation.
func (r *FileRepository) Save(_ context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	protoRecord, err := toProto(record)
	if err != nil {
		return err
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
		Indent:    "    ",
	}

	data, err := marshalOptions.Marshal(protoRecord)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}

	return nil
}

// fromProto converts the stored struct into a Record.
func fromProto(protoRecord *structpb.Struct) (*Record, error) {
	fields := protoRecord.GetFields()

	record := &Record{
		Device: wits.DeviceInfo{
			DeviceName:     fields[fieldDeviceName].GetStringValue(),
			AppInstallPath: fields[fieldAppInstallPath].GetStringValue(),
		},
		Address: fields[fieldAddress].GetStringValue(),
	}

	if raw := fields[fieldConnectedAt].GetStringValue(); raw != "" {
		var ts timestamppb.Timestamp
		if err := protojson.Unmarshal([]byte(`"`+raw+`"`), &ts); err != nil {
			return nil, fmt.Errorf("decode session timestamp: %w", err)
		}

		record.ConnectedAt = ts.AsTime()
	}

	return record, nil
}

// toProto converts a Record into the stored struct.
func toProto(record *Record) (*structpb.Struct, error) {
	values := map[string]any{
		fieldDeviceName:     record.Device.DeviceName,
		fieldAppInstallPath: record.Device.AppInstallPath,
		fieldAddress:        record.Address,
	}

	if !record.ConnectedAt.IsZero() {
		raw, err := protojson.Marshal(timestamppb.New(record.ConnectedAt))
		if err != nil {
			return nil, fmt.Errorf("encode session timestamp: %w", err)
		}

		values[fieldConnectedAt] = strings.Trim(string(raw), `"`)
	}

	protoRecord, err := structpb.NewStruct(values)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}

	return protoRecord, nil
}
