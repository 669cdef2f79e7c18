// Package lock provides the named, transaction-scoped locks that serialize
// balance and stock mutations. Each lock is identified by a Key made of a
// domain and an entity id; locks in different domains never contend.
package lock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"gorm.io/gorm"
)

type Domain string

const (
	UserBalance Domain = "user_balance"
	PrizeStock  Domain = "prize_stock"
	RewardStock Domain = "reward_stock"
)

var ErrUnknownDomain = errors.New("unknown lock domain")

// Rank orders domains for acquisition. A transaction may only acquire a lock
// whose rank is greater than or equal to every lock it already holds.
func (d Domain) Rank() int {
	switch d {
	case UserBalance:
		return 1
	case PrizeStock, RewardStock:
		return 2
	}
	return 0
}

// class is the first argument of the two-key advisory lock form.
func (d Domain) class() (int32, error) {
	switch d {
	case UserBalance:
		return 1001, nil
	case PrizeStock:
		return 1002, nil
	case RewardStock:
		return 1003, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDomain, string(d))
}

type Key struct {
	Domain Domain
	ID     string
}

func User(userID string) Key { return Key{Domain: UserBalance, ID: userID} }

func Prize(prizeID string) Key { return Key{Domain: PrizeStock, ID: prizeID} }

func Reward(rewardID string) Key { return Key{Domain: RewardStock, ID: rewardID} }

func (k Key) String() string {
	return string(k.Domain) + ":" + k.ID
}

func (k Key) object() int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.ID))
	return int32(h.Sum32())
}

// Locker acquires an exclusive lock for key on behalf of the transaction db.
// The returned release func is called once the transaction has committed or
// rolled back; lockers whose locks end with the transaction return a no-op.
type Locker interface {
	Acquire(ctx context.Context, db *gorm.DB, key Key) (release func(), err error)
}
