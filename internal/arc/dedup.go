package arc

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/im7mortal/kmutex"
)

// BlockWriter stores block payloads once per content key and records every
// generation that references them. It shares its key lock with the
// BlockReclaimer so that adding and removing references to the same block
// never interleave.
type BlockWriter struct {
	store   ContentStore
	codec   BlockCodec
	locks   *kmutex.Kmutex
	logger  Logger
	metrics Metrics
}

// NewBlockWriter creates a BlockWriter.
func NewBlockWriter(store ContentStore, codec BlockCodec, locks *kmutex.Kmutex, logger Logger, metrics Metrics) *BlockWriter {
	return &BlockWriter{
		store:   store,
		codec:   codec,
		locks:   locks,
		logger:  logger,
		metrics: metrics,
	}
}

// StoreBlock stores a plaintext block on behalf of one generation and
// returns its descriptor. If the content is already stored, only the ledger
// is updated and the stored payload's codec flags are adopted; dedup reports
// whether that happened.
func (w *BlockWriter) StoreBlock(ctx context.Context, entityUUID string, genID int, data []byte) (info BlockInfo, dedup bool, err error) {
	// Payload and ledger are written as a pair once the key is locked.
	ctx = context.WithoutCancel(ctx)
	key := ContentKey(data)
	sum := md5.Sum(data)
	info = BlockInfo{
		ContentKey: key,
		MD5:        hex.EncodeToString(sum[:]),
		Size:       int64(len(data)),
	}

	w.locks.Lock(key)
	defer w.locks.Unlock(key)

	ledger, err := w.readLedger(ctx, key)
	switch {
	case err == nil:
		present, err := w.store.Exists(ctx, BlockDataKey(key))
		if err != nil {
			return BlockInfo{}, false, fmt.Errorf("checking block %s: %w", key, err)
		}
		if !present {
			w.logger.Warn("block payload missing, rewriting", "key", key)
			w.metrics.BlockMissing()
			stored, err := w.writePayload(ctx, info, data)
			if err != nil {
				return BlockInfo{}, false, err
			}
			ledger.StreamSize, ledger.Compressed, ledger.Ciphered = stored.StreamSize, stored.Compressed, stored.Ciphered
		}
		ledger.AddReference(entityUUID, genID)
		if err := w.writeLedger(ctx, key, ledger); err != nil {
			return BlockInfo{}, false, err
		}
		w.metrics.BlockDeduplicated()
		info.StreamSize = ledger.StreamSize
		info.Compressed = ledger.Compressed
		info.Ciphered = ledger.Ciphered
		return info, true, nil

	case errors.Is(err, ErrNotFound):
		stored, err := w.writePayload(ctx, info, data)
		if err != nil {
			return BlockInfo{}, false, err
		}
		ledger := NewDedupLedger(stored)
		ledger.AddReference(entityUUID, genID)
		if err := w.writeLedger(ctx, key, ledger); err != nil {
			return BlockInfo{}, false, err
		}
		w.metrics.BlockStored(stored.StreamSize)
		return stored, false, nil

	default:
		return BlockInfo{}, false, err
	}
}

// Reference records that a generation uses an already stored block, as when
// an incremental generation inherits an unchanged block from its parent.
func (w *BlockWriter) Reference(ctx context.Context, entityUUID string, genID int, info BlockInfo) (BlockInfo, error) {
	ctx = context.WithoutCancel(ctx)
	key := info.ContentKey

	w.locks.Lock(key)
	defer w.locks.Unlock(key)

	ledger, err := w.readLedger(ctx, key)
	if err != nil {
		return BlockInfo{}, err
	}
	if ledger.AddReference(entityUUID, genID) {
		if err := w.writeLedger(ctx, key, ledger); err != nil {
			return BlockInfo{}, err
		}
		w.metrics.LedgerUpdated()
	}
	info.MD5 = ledger.MD5
	info.StreamSize = ledger.StreamSize
	info.Compressed = ledger.Compressed
	info.Ciphered = ledger.Ciphered
	return info, nil
}

func (w *BlockWriter) writePayload(ctx context.Context, info BlockInfo, data []byte) (BlockInfo, error) {
	payload, flags, err := w.codec.Encode(data)
	if err != nil {
		return BlockInfo{}, fmt.Errorf("encoding block %s: %w", info.ContentKey, err)
	}
	if err := w.store.Put(ctx, BlockDataKey(info.ContentKey), payload); err != nil {
		return BlockInfo{}, fmt.Errorf("writing block %s: %w", info.ContentKey, err)
	}
	info.StreamSize = int64(len(payload))
	info.Compressed = flags.Compressed
	info.Ciphered = flags.Ciphered
	return info, nil
}

func (w *BlockWriter) readLedger(ctx context.Context, key string) (*DedupLedger, error) {
	data, err := w.store.Get(ctx, BlockLedgerKey(key))
	if err != nil {
		return nil, fmt.Errorf("reading ledger of block %s: %w", key, err)
	}
	return DecodeDedupLedger(data)
}

func (w *BlockWriter) writeLedger(ctx context.Context, key string, ledger *DedupLedger) error {
	data, err := ledger.Encode()
	if err != nil {
		return err
	}
	if err := w.store.Put(ctx, BlockLedgerKey(key), data); err != nil {
		return fmt.Errorf("writing ledger of block %s: %w", key, err)
	}
	return nil
}
