// Package salmon implements encrypted virtual drives on top of AES-256 in
// CTR mode.
//
// # Overview
//
// A drive is a directory on a backing store holding a config file and a
// content directory. File contents and file names are encrypted with the
// drive key, which is wrapped under a key derived from the user's password.
// Backing stores are reached through the RealFile interface; FSFile adapts
// any absfs.FileSystem, so local disk (OSFileSystem) and memory (memfs)
// work out of the box.
//
// # Nonces
//
// CTR mode fails completely when a counter value is reused under the same
// key. Every new file and every encrypted name therefore takes its nonce
// from a sequence.Service, which hands out values from a range owned by the
// current device and persists the next value before returning. Devices
// sharing a drive split ranges with ExportAuthFile and ImportAuthFile.
// Processes on one machine can share one allocator through package
// sequence/ipc.
//
// # Basic Usage
//
//	fsys, _ := memfs.NewFS()
//	seq := sequence.NewSequencer(sequence.NewMemoryStore(), nil)
//	drive, err := salmon.CreateDrive(ctx, salmon.NewRealFile(fsys, "/vault"),
//	    []byte("password"), seq, salmon.DriveOptions{Settings: salmon.DefaultSettings()})
//	if err != nil {
//	    return err
//	}
//	f, _ := drive.Root().CreateFile(ctx, "notes.txt")
//	w, _ := f.OutputStream(ctx)
//	w.Write([]byte("secret"))
//	w.Close()
//
// # File Format
//
// Every file starts with a 16 byte header:
//   - Magic (3 bytes): "SLM"
//   - Version (1 byte): 2
//   - Nonce (8 bytes)
//   - Chunk size (4 bytes, little endian): 0 when integrity is off
//
// Without integrity the ciphertext follows directly. With integrity the
// ciphertext is cut into chunks, each stored as a 32 byte HMAC-SHA256 tag
// followed by up to chunk size bytes. The tag covers the nonce, the chunk
// index and the chunk ciphertext, so chunks cannot be reordered or moved
// between files. A read only releases bytes of chunks whose tag verified.
//
// The counter block for byte offset pos is the nonce in the high 8 bytes and
// pos/16 in the low 8 bytes, so a stream can seek anywhere in O(1) and
// several goroutines can encrypt distinct ranges of one file in parallel.
//
// # Security Considerations
//
// Protected against:
//   - Reading file contents and names without the password
//   - Modification of file contents when integrity is enabled
//   - Nonce reuse across sessions, processes and devices using the sequencer
//
// Not protected against:
//   - Memory dumps of an unlocked drive
//   - Metadata leakage (file sizes, directory structure, timestamps)
//   - Rollback of the sequence store by someone with write access to it
package salmon
