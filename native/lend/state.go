package lend

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"nftlend/crypto"
	"nftlend/storage"
)

// TokenKey identifies a single collateral token within an asset class.
type TokenKey struct {
	NftAsset string
	TokenID  uint64
}

// Changeset stages every record mutated by one pool operation. State.Apply
// commits the whole set atomically; an operation that fails before Apply
// leaves the ledger untouched.
type Changeset struct {
	Reserves   map[string]*ReserveData
	Nfts       map[string]*NftData
	Loans      map[uint64]*LoanData
	TokenIndex map[TokenKey]uint64 // 0 clears the open-loan marker
	Borrowers  map[string][]uint64 // open loan ids per borrower, full replacement
	NextLoanID uint64              // 0 leaves the counter unchanged
}

// NewChangeset returns an empty staged mutation set.
func NewChangeset() *Changeset {
	return &Changeset{
		Reserves:   make(map[string]*ReserveData),
		Nfts:       make(map[string]*NftData),
		Loans:      make(map[uint64]*LoanData),
		TokenIndex: make(map[TokenKey]uint64),
		Borrowers:  make(map[string][]uint64),
	}
}

// State is the persistence boundary for the pool ledger. Reads return deep
// copies (or nil when absent) so callers can stage mutations without touching
// committed records.
type State interface {
	Reserve(asset string) (*ReserveData, error)
	ReserveList() ([]string, error)
	Nft(asset string) (*NftData, error)
	NftList() ([]string, error)
	Loan(id uint64) (*LoanData, error)
	OpenLoanID(nftAsset string, tokenID uint64) (uint64, error)
	OpenLoanIDsOf(borrower crypto.Address) ([]uint64, error)
	NextLoanID() (uint64, error)
	Apply(cs *Changeset) error
}

// --- In-memory state ---

// MemState keeps the ledger in process memory. It backs tests and ephemeral
// deployments.
type MemState struct {
	mu         sync.RWMutex
	reserves   map[string]*ReserveData
	nfts       map[string]*NftData
	loans      map[uint64]*LoanData
	tokenIndex map[TokenKey]uint64
	borrowers  map[string][]uint64
	nextLoanID uint64
}

func NewMemState() *MemState {
	return &MemState{
		reserves:   make(map[string]*ReserveData),
		nfts:       make(map[string]*NftData),
		loans:      make(map[uint64]*LoanData),
		tokenIndex: make(map[TokenKey]uint64),
		borrowers:  make(map[string][]uint64),
		nextLoanID: 1,
	}
}

func (s *MemState) Reserve(asset string) (*ReserveData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reserves[asset].Clone(), nil
}

func (s *MemState) ReserveList() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.reserves), nil
}

func (s *MemState) Nft(asset string) (*NftData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nfts[asset].Clone(), nil
}

func (s *MemState) NftList() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.nfts), nil
}

func (s *MemState) Loan(id uint64) (*LoanData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loans[id].Clone(), nil
}

func (s *MemState) OpenLoanID(nftAsset string, tokenID uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenIndex[TokenKey{NftAsset: nftAsset, TokenID: tokenID}], nil
}

func (s *MemState) OpenLoanIDsOf(borrower crypto.Address) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.borrowers[string(borrower.Bytes())]
	return append([]uint64(nil), ids...), nil
}

func (s *MemState) NextLoanID() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.nextLoanID == 0 {
		return 1, nil
	}
	return s.nextLoanID, nil
}

func (s *MemState) Apply(cs *Changeset) error {
	if cs == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for asset, reserve := range cs.Reserves {
		s.reserves[asset] = reserve.Clone()
	}
	for asset, nft := range cs.Nfts {
		s.nfts[asset] = nft.Clone()
	}
	for id, loan := range cs.Loans {
		s.loans[id] = loan.Clone()
	}
	for key, id := range cs.TokenIndex {
		if id == 0 {
			delete(s.tokenIndex, key)
			continue
		}
		s.tokenIndex[key] = id
	}
	for borrower, ids := range cs.Borrowers {
		if len(ids) == 0 {
			delete(s.borrowers, borrower)
			continue
		}
		s.borrowers[borrower] = append([]uint64(nil), ids...)
	}
	if cs.NextLoanID > 0 {
		s.nextLoanID = cs.NextLoanID
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Key-value backed state ---

const (
	kvReservePrefix  = "lend/reserve/"
	kvReserveListKey = "lend/reserve-list"
	kvNftPrefix      = "lend/nft/"
	kvNftListKey     = "lend/nft-list"
	kvLoanPrefix     = "lend/loan/"
	kvTokenPrefix    = "lend/token/"
	kvBorrowerPrefix = "lend/borrower/"
	kvLoanSeqKey     = "lend/loan-seq"
)

// KVState persists the ledger as JSON records in a storage.Database. Apply
// writes every staged record through a single batch so the commit is atomic.
type KVState struct {
	db storage.Database
}

func NewKVState(db storage.Database) *KVState {
	return &KVState{db: db}
}

func (s *KVState) getJSON(key string, out any) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *KVState) Reserve(asset string) (*ReserveData, error) {
	reserve := new(ReserveData)
	ok, err := s.getJSON(kvReservePrefix+asset, reserve)
	if err != nil || !ok {
		return nil, err
	}
	return reserve, nil
}

func (s *KVState) ReserveList() ([]string, error) {
	var list []string
	if _, err := s.getJSON(kvReserveListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *KVState) Nft(asset string) (*NftData, error) {
	nft := new(NftData)
	ok, err := s.getJSON(kvNftPrefix+asset, nft)
	if err != nil || !ok {
		return nil, err
	}
	return nft, nil
}

func (s *KVState) NftList() ([]string, error) {
	var list []string
	if _, err := s.getJSON(kvNftListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *KVState) Loan(id uint64) (*LoanData, error) {
	loan := new(LoanData)
	ok, err := s.getJSON(loanKey(id), loan)
	if err != nil || !ok {
		return nil, err
	}
	return loan, nil
}

func (s *KVState) OpenLoanID(nftAsset string, tokenID uint64) (uint64, error) {
	raw, err := s.db.Get([]byte(tokenIndexKey(nftAsset, tokenID)))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt token index for %s/%d", nftAsset, tokenID)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *KVState) OpenLoanIDsOf(borrower crypto.Address) ([]uint64, error) {
	var ids []uint64
	if _, err := s.getJSON(borrowerKey(borrower), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *KVState) NextLoanID() (uint64, error) {
	raw, err := s.db.Get([]byte(kvLoanSeqKey))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, errors.New("corrupt loan sequence")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *KVState) Apply(cs *Changeset) error {
	if cs == nil {
		return nil
	}
	entries := make([]storage.Entry, 0, 8)

	appendJSON := func(key string, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		entries = append(entries, storage.Entry{Key: []byte(key), Value: raw})
		return nil
	}

	if len(cs.Reserves) > 0 {
		list, err := s.ReserveList()
		if err != nil {
			return err
		}
		for asset, reserve := range cs.Reserves {
			if err := appendJSON(kvReservePrefix+asset, reserve); err != nil {
				return err
			}
			list = appendMissing(list, asset)
		}
		if err := appendJSON(kvReserveListKey, list); err != nil {
			return err
		}
	}
	if len(cs.Nfts) > 0 {
		list, err := s.NftList()
		if err != nil {
			return err
		}
		for asset, nft := range cs.Nfts {
			if err := appendJSON(kvNftPrefix+asset, nft); err != nil {
				return err
			}
			list = appendMissing(list, asset)
		}
		if err := appendJSON(kvNftListKey, list); err != nil {
			return err
		}
	}
	for id, loan := range cs.Loans {
		if err := appendJSON(loanKey(id), loan); err != nil {
			return err
		}
	}
	for key, id := range cs.TokenIndex {
		if id == 0 {
			entries = append(entries, storage.Entry{Key: []byte(tokenIndexKey(key.NftAsset, key.TokenID))})
			continue
		}
		raw := make([]byte, 8)
		binary.BigEndian.PutUint64(raw, id)
		entries = append(entries, storage.Entry{Key: []byte(tokenIndexKey(key.NftAsset, key.TokenID)), Value: raw})
	}
	for borrower, ids := range cs.Borrowers {
		key := kvBorrowerPrefix + borrower
		if len(ids) == 0 {
			entries = append(entries, storage.Entry{Key: []byte(key)})
			continue
		}
		if err := appendJSON(key, ids); err != nil {
			return err
		}
	}
	if cs.NextLoanID > 0 {
		raw := make([]byte, 8)
		binary.BigEndian.PutUint64(raw, cs.NextLoanID)
		entries = append(entries, storage.Entry{Key: []byte(kvLoanSeqKey), Value: raw})
	}

	return s.db.WriteBatch(entries)
}

func loanKey(id uint64) string {
	return fmt.Sprintf("%s%020d", kvLoanPrefix, id)
}

func tokenIndexKey(nftAsset string, tokenID uint64) string {
	return fmt.Sprintf("%s%s/%d", kvTokenPrefix, nftAsset, tokenID)
}

func borrowerKey(addr crypto.Address) string {
	return kvBorrowerPrefix + string(addr.Bytes())
}

func appendMissing(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	list = append(list, value)
	sort.Strings(list)
	return list
}
