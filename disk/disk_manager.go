package disk

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"flstore/common"
	"flstore/disk/pages"
)

var ErrChecksumMismatch = errors.New("page checksum mismatch, data corruption suspected")
var ErrPartialPage = errors.New("partial page encountered")

type IDiskManager interface {
	// ReadPage reads page with the given id into dest. Pages that are past the end of the file are read as zero
	// pages since they might be allocated but never flushed before a crash.
	ReadPage(pageId uint32, dest []byte) error
	WritePage(data []byte, pageId uint32) error
	NewPage() (pageId uint32)
	NumPages() uint32
	Sync() error
	Close() error
}

// FlushInstantly should normally be set to true. If it is false then data might be lost even after a successful write
// operation when power loss occurs before os flushes its io buffers. But when it is false, one thread tests runs faster
// thanks to io scheduling of os, so for development it could be set to false. Setting it to false does not break
// recovery because every page write is preceded by a log flush.
const FlushInstantly bool = false

var _ IDiskManager = &Manager{}

type Manager struct {
	file     *os.File
	filename string
	numPages uint32
	fsync    bool
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewDiskManager opens or creates the data file. A newly created file has zero pages.
func NewDiskManager(file string, fsync bool, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open data file %s", file)
	}

	stats, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.WithStack(err)
	}

	filesize := stats.Size()
	if filesize%int64(pages.PageSize) != 0 {
		logger.Warn("data file size is not a multiple of page size, last page is partial",
			zap.String("file", file), zap.Int64("size", filesize))
	}

	logger.Info("data file is opened", zap.String("file", file), zap.Int64("size", filesize))

	d := &Manager{
		file:     f,
		filename: file,
		numPages: uint32(filesize / int64(pages.PageSize)),
		fsync:    fsync || FlushInstantly,
		logger:   logger,
	}

	return d, nil
}

func (d *Manager) WritePage(data []byte, pageId uint32) error {
	if len(data) != pages.PageSize {
		return errors.Errorf("written bytes are not equal to page size: %d", len(data))
	}

	// checksum is stamped on a copy so that readers of the frame never observe the header changing under them
	data = common.Clone(data)
	StampChecksum(data)

	n, err := d.file.WriteAt(data, int64(pages.PageSize)*int64(pageId))
	if err != nil {
		return errors.Wrapf(err, "failed to write page %d", pageId)
	}
	if n != pages.PageSize {
		return errors.Wrapf(io.ErrShortWrite, "page %d", pageId)
	}

	if d.fsync {
		if err := d.file.Sync(); err != nil {
			return errors.WithStack(err)
		}
	}

	d.mu.Lock()
	if pageId >= d.numPages {
		d.numPages = pageId + 1
	}
	d.mu.Unlock()

	return nil
}

func (d *Manager) ReadPage(pageId uint32, dest []byte) error {
	n, err := d.file.ReadAt(dest[:pages.PageSize], int64(pages.PageSize)*int64(pageId))
	if err == io.EOF && n == 0 {
		clear(dest[:pages.PageSize])
		return nil
	}
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "failed to read page %d", pageId)
	}
	if n != pages.PageSize {
		return errors.Wrapf(ErrPartialPage, "page id: %d, read %d bytes", pageId, n)
	}

	return VerifyChecksum(pageId, dest)
}

func (d *Manager) NewPage() (pageId uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pageId = d.numPages
	d.numPages++
	return pageId
}

func (d *Manager) NumPages() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.numPages
}

func (d *Manager) Sync() error {
	return errors.WithStack(d.file.Sync())
}

func (d *Manager) Close() error {
	return errors.WithStack(d.file.Close())
}

// StampChecksum computes the checksum of the page body and lsn and writes it into the page header.
func StampChecksum(data []byte) {
	binary.BigEndian.PutUint64(data[pages.PageChecksumOffset:], checksum(data))
}

// VerifyChecksum returns ErrChecksumMismatch when the checksum stored in the page header does not match its content.
// Never written pages are all zeroes and they are accepted as they are.
func VerifyChecksum(pageId uint32, data []byte) error {
	stored := binary.BigEndian.Uint64(data[pages.PageChecksumOffset:])
	if stored == 0 && isZero(data) {
		return nil
	}

	if stored != checksum(data) {
		return errors.Wrapf(ErrChecksumMismatch, "page %d", pageId)
	}

	return nil
}

func checksum(data []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write(data[pages.PageLSNOffset:pages.PageChecksumOffset])
	_, _ = d.Write(data[pages.PageHeaderSize:pages.PageSize])
	return d.Sum64()
}

func isZero(data []byte) bool {
	for _, b := range data[:pages.PageSize] {
		if b != 0 {
			return false
		}
	}

	return true
}
