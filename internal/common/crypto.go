package common

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

const KeySize = 32

var ErrEmptyPSK = errors.New("pre-shared key is empty")

// DeriveKey expands a pre-shared key into a KeySize key bound to salt and info
func DeriveKey(psk []byte, salt []byte, info string) ([]byte, error) {
	if len(psk) == 0 {
		return nil, ErrEmptyPSK
	}
	key := make([]byte, KeySize)
	_, err := io.ReadFull(hkdf.New(sha256.New, psk, salt, []byte(info)), key)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func CryptoRandRead(buf []byte) {
	RandRead(rand.Reader, buf)
}

func backoff(f func() error) {
	err := f()
	if err == nil {
		return
	}
	waitDur := [10]time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond, 50 * time.Millisecond,
		100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second,
		3 * time.Second, 5 * time.Second}
	for i := 0; i < 10; i++ {
		log.Errorf("Failed to get random: %v. Retrying...", err)
		err = f()
		if err == nil {
			return
		}
		time.Sleep(waitDur[i])
	}
	log.Fatal("Cannot get random after 10 retries")
}

func RandRead(randSource io.Reader, buf []byte) {
	backoff(func() error {
		_, err := io.ReadFull(randSource, buf)
		return err
	})
}

// RandInt returns a uniform integer in [0, n)
func RandInt(n int) int {
	s := new(int)
	backoff(func() error {
		size, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
		if err != nil {
			return err
		}
		*s = int(size.Int64())
		return nil
	})
	return *s
}
