package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTransactionID_UniqueUnderBurst(t *testing.T) {
	// Many ids generated back to back, and concurrently, land in the
	// same nanosecond on fast clocks; each must still be distinct.

	const perWorker = 1000
	const workers = 4

	var mu sync.Mutex
	seen := make(map[TransactionID]bool, perWorker*workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]TransactionID, perWorker)
			for i := range ids {
				ids[i] = NewTransactionID()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				seen[id] = true
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, perWorker*workers)
}

func TestTransaction_Delta(t *testing.T) {
	credit := Transaction{Type: TxCredit, Coins: 30}
	debit := Transaction{Type: TxDebit, Coins: 30}

	assert.Equal(t, int64(30), credit.Delta())
	assert.Equal(t, int64(-30), debit.Delta())
}
