package salmon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mku11/Salmon-AES-CTR-sub010/sequence"
)

// Hooks are called after every unlock attempt.
type Hooks struct {
	OnUnlockSuccess func(d *Drive)
	OnUnlockError   func(err error)
}

// DriveOptions configures CreateDrive and OpenDrive. ChunkSize, KDF and
// NameIntegrity of Settings are only used when creating a drive; an opened
// drive uses the values stored in its config.
type DriveOptions struct {
	Settings Settings
	Hooks    Hooks
}

// Drive is an unlocked encrypted drive.
type Drive struct {
	root     RealFile
	content  RealFile
	config   *DriveConfig
	seq      sequence.Service
	settings Settings
	log      logrus.FieldLogger

	mu       sync.RWMutex
	driveKey []byte
	hashKey  []byte
	nameKey  []byte
}

// CreateDrive initializes an empty directory as a drive protected by password.
// The creating device gets a sequence spanning the whole nonce space.
func CreateDrive(ctx context.Context, dir RealFile, password []byte, seq sequence.Service, opts DriveOptions) (*Drive, error) {
	settings := opts.Settings
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if seq == nil {
		return nil, NewValidationError("sequencer", nil, "sequencer cannot be nil")
	}
	if !dir.Exists() || !dir.IsDirectory() {
		return nil, NewIOError("create", dir.Path(), -1, errors.New("drive directory does not exist"))
	}
	if dir.Child(ConfigFileName).Exists() {
		return nil, NewIOError("create", dir.Path(), -1, errors.New("drive already exists"))
	}

	driveKey, err := RandomBytes(KeyLength)
	if err != nil {
		return nil, err
	}
	hashKey, err := RandomBytes(HashKeyLength)
	if err != nil {
		return nil, err
	}
	cfg := &DriveConfig{
		Creator:       creator,
		Version:       ConfigVersion,
		DriveID:       uuid.NewString(),
		ChunkSize:     settings.ChunkSize,
		NameIntegrity: settings.NameIntegrity,
	}
	if err := cfg.EncryptKeys(password, settings.KDF, driveKey, hashKey); err != nil {
		return nil, err
	}

	authID := uuid.NewString()
	if err := seq.CreateSequence(ctx, cfg.DriveID, authID); err != nil {
		return nil, fmt.Errorf("failed to register sequence: %w", err)
	}
	if err := seq.InitSequence(ctx, cfg.DriveID, authID, sequence.NonceFromUint64(0), sequence.MaxNonce()); err != nil {
		return nil, fmt.Errorf("failed to initialize sequence: %w", err)
	}

	content := dir.Child(ContentDirName)
	if !content.Exists() {
		if content, err = dir.CreateDirectory(ContentDirName); err != nil {
			return nil, err
		}
	}
	if err := cfg.WriteFile(dir); err != nil {
		return nil, err
	}

	d := newDrive(dir, content, cfg, seq, settings, driveKey, hashKey)
	d.log.WithField("auth", authID).Info("drive created")
	if opts.Hooks.OnUnlockSuccess != nil {
		opts.Hooks.OnUnlockSuccess(d)
	}
	return d, nil
}

// OpenDrive unlocks the drive in dir. A wrong password returns a
// *SecurityError; the caller decides whether to ask again.
func OpenDrive(ctx context.Context, dir RealFile, password []byte, seq sequence.Service, opts DriveOptions) (*Drive, error) {
	d, err := openDrive(dir, password, seq, opts.Settings)
	if err != nil {
		if opts.Hooks.OnUnlockError != nil {
			opts.Hooks.OnUnlockError(err)
		}
		return nil, err
	}
	d.log.Info("drive unlocked")
	if opts.Hooks.OnUnlockSuccess != nil {
		opts.Hooks.OnUnlockSuccess(d)
	}
	return d, nil
}

func openDrive(dir RealFile, password []byte, seq sequence.Service, settings Settings) (*Drive, error) {
	if seq == nil {
		return nil, NewValidationError("sequencer", nil, "sequencer cannot be nil")
	}
	cfg, err := LoadDriveConfig(dir)
	if err != nil {
		return nil, err
	}
	driveKey, hashKey, err := cfg.DecryptKeys(password)
	if err != nil {
		var se *SecurityError
		if errors.As(err, &se) {
			se.Path = dir.Path()
		}
		return nil, err
	}
	content := dir.Child(ContentDirName)
	if !content.IsDirectory() {
		return nil, NewIOError("open", content.Path(), -1, errors.New("content directory missing"))
	}
	return newDrive(dir, content, cfg, seq, settings, driveKey, hashKey), nil
}

func newDrive(dir, content RealFile, cfg *DriveConfig, seq sequence.Service, settings Settings, driveKey, hashKey []byte) *Drive {
	return &Drive{
		root:     dir,
		content:  content,
		config:   cfg,
		seq:      seq,
		settings: settings,
		log:      settings.logger().WithField("drive", cfg.DriveID),
		driveKey: driveKey,
		hashKey:  hashKey,
		nameKey:  hkdfDerive(hashKey, hkdfInfoNameMac, HashKeyLength),
	}
}

// ID returns the drive id.
func (d *Drive) ID() string {
	return d.config.DriveID
}

// Config returns the drive configuration.
func (d *Drive) Config() *DriveConfig {
	return d.config
}

// Settings returns the settings the drive was opened with.
func (d *Drive) Settings() Settings {
	return d.settings
}

// Sequencer returns the nonce service of the drive.
func (d *Drive) Sequencer() sequence.Service {
	return d.seq
}

// RealRoot returns the drive directory on the backing store.
func (d *Drive) RealRoot() RealFile {
	return d.root
}

// Root returns the top level virtual directory.
func (d *Drive) Root() *VirtualFile {
	return &VirtualFile{drive: d, real: d.content, root: true}
}

// keys returns the key material or ErrDriveLocked after Close.
func (d *Drive) keys() (driveKey, hashKey []byte, err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.driveKey == nil {
		return nil, nil, ErrDriveLocked
	}
	return d.driveKey, d.hashKey, nil
}

// NextNonce allocates a fresh nonce from the sequencer.
func (d *Drive) NextNonce(ctx context.Context) ([]byte, error) {
	nonce, err := d.seq.NextNonce(ctx, d.config.DriveID)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	return nonce, nil
}

// ChangePassword rewraps the drive keys under newPassword with a fresh salt.
func (d *Drive) ChangePassword(newPassword []byte, kdf *KDFParams) error {
	driveKey, hashKey, err := d.keys()
	if err != nil {
		return err
	}
	params := d.config.KDF
	if kdf != nil {
		params = *kdf
	}
	cfg := *d.config
	if err := cfg.EncryptKeys(newPassword, params, driveKey, hashKey); err != nil {
		return err
	}
	if err := cfg.WriteFile(d.root); err != nil {
		return err
	}
	d.config = &cfg
	d.log.Info("drive password changed")
	return nil
}

// Close wipes the keys. The drive cannot be used afterwards.
func (d *Drive) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range [][]byte{d.driveKey, d.hashKey, d.nameKey} {
		for i := range k {
			k[i] = 0
		}
	}
	d.driveKey, d.hashKey, d.nameKey = nil, nil, nil
	d.log.Debug("drive locked")
}
