package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/repository"
)

// Ambiguous characters (0/O, 1/I/L) are excluded from reference suffixes.
const referenceAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// ReferenceService produces human-readable unique identifiers per aggregate
// type: DA-YYYYMM-XXXXXX for purchase requests (month scope, random suffix)
// and INT-YYYY-NNNN for internal requests (calendar-year sequence).
type ReferenceService interface {
	PurchaseReference(ctx context.Context, now time.Time) (string, error)
	InternalReference(ctx context.Context, now time.Time) (string, error)
}

type referenceService struct {
	purchaseRepo repository.PurchaseRepository
	internalRepo repository.InternalRepository
}

func NewReferenceService(purchaseRepo repository.PurchaseRepository, internalRepo repository.InternalRepository) ReferenceService {
	return &referenceService{purchaseRepo: purchaseRepo, internalRepo: internalRepo}
}

func (s *referenceService) PurchaseReference(ctx context.Context, now time.Time) (string, error) {
	prefix := "DA-" + now.Format("200601") + "-"

	// The unique index on reference is the backstop; the retry loop keeps
	// the insert path from ever hitting it in practice.
	for attempt := 0; attempt < 5; attempt++ {
		suffix, err := randomSuffix(6)
		if err != nil {
			return "", err
		}
		ref := prefix + suffix

		exists, err := s.purchaseRepo.ExistsByReference(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("failed to check reference uniqueness: %w", err)
		}
		if !exists {
			return ref, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique purchase reference")
}

// InternalReference must be called inside the transaction that inserts the
// request: the underlying sequence uses an advisory lock held to commit.
func (s *referenceService) InternalReference(ctx context.Context, now time.Time) (string, error) {
	year := now.Year()
	seq, err := s.internalRepo.NextSequence(ctx, year)
	if err != nil {
		return "", fmt.Errorf("failed to get next internal sequence: %w", err)
	}
	return fmt.Sprintf("INT-%d-%04d", year, seq), nil
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i := range buf {
		buf[i] = referenceAlphabet[int(buf[i])%len(referenceAlphabet)]
	}
	return string(buf), nil
}
