package kvstore

import bolt "go.etcd.io/bbolt"

// batchOp is one buffered operation. Delete when value is nil.
type batchOp struct {
	key   string
	value []byte
}

// Batch buffers puts and deletes and applies them in one bbolt update
// transaction. Either every operation commits or none does.
type Batch struct {
	store *Store
	ops   []batchOp
}

// NewBatch starts an empty batch against the store.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s}
}

// Put buffers a write of key.
func (b *Batch) Put(key string, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

// Delete buffers a removal of key.
func (b *Batch) Delete(key string) {
	b.ops = append(b.ops, batchOp{key: key})
}

// Len returns the number of buffered operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Write applies the batch atomically. The batch is reusable only after a
// successful commit; on error the caller should discard it.
func (b *Batch) Write() error {
	if len(b.ops) == 0 {
		return nil
	}
	err := b.store.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketRecords)
		for _, op := range b.ops {
			if op.value == nil {
				if err := bkt.Delete([]byte(op.key)); err != nil {
					return err
				}
				continue
			}
			if err := bkt.Put([]byte(op.key), op.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		b.ops = b.ops[:0]
	}
	return err
}

// Discard drops all buffered operations.
func (b *Batch) Discard() {
	b.ops = nil
}
