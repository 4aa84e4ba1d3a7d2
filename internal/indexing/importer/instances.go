package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/storage"
)

// ResolveInstanceOwners repairs the owner of every owner-tracking token instance whose
// owner pointer references a block that lost consensus. Only changed instances are returned.
//
// The new owner is the recipient of the latest transfer of the token id that sits in a
// canonical block, ordered by variant. Without one, the pointer is set to the sentinel and
// the owner becomes the sender of the displaced transfer. When even that transfer is unknown
// the owner is kept and only the pointer is reset.
func ResolveInstanceOwners(
	ctx context.Context,
	repo storage.TokenRepository,
	lost []domain.LostConsensus,
	variant domain.ChainVariant,
	now time.Time,
) ([]domain.TokenInstance, error) {
	if len(lost) == 0 {
		return nil, nil
	}

	heights := make([]int64, 0, len(lost))
	for _, l := range lost {
		heights = append(heights, l.Number)
	}

	instances, err := repo.TokenInstancesOwnedAt(ctx, heights)
	if err != nil {
		return nil, fmt.Errorf("failed to load token instances: %w", err)
	}

	var changed []domain.TokenInstance
	for _, inst := range instances {
		repaired, err := repairOwner(ctx, repo, inst, variant)
		if err != nil {
			return nil, err
		}
		if sameOwner(inst, repaired) {
			continue
		}
		repaired.UpdatedAt = now
		changed = append(changed, repaired)
	}
	if len(changed) == 0 {
		return nil, nil
	}

	if err := repo.UpdateTokenInstanceOwners(ctx, changed, now); err != nil {
		return nil, fmt.Errorf("failed to update token instance owners: %w", err)
	}
	return changed, nil
}

func repairOwner(
	ctx context.Context,
	repo storage.TokenRepository,
	inst domain.TokenInstance,
	variant domain.ChainVariant,
) (domain.TokenInstance, error) {
	latest, err := repo.LatestCanonicalTransfer(ctx, inst.ContractAddress, inst.TokenID, variant)
	if err != nil {
		return inst, fmt.Errorf("failed to find canonical transfer for %s: %w", inst.Key(), err)
	}
	if latest != nil {
		inst.OwnerAddress = domain.Ptr(latest.ToAddress)
		inst.OwnerUpdatedAtBlock = latest.BlockNumber
		inst.OwnerUpdatedAtLogIndex = int64(latest.LogIndex)
		return inst, nil
	}

	displaced, err := repo.TransferAt(ctx, inst.ContractAddress, inst.TokenID,
		inst.OwnerUpdatedAtBlock, inst.OwnerUpdatedAtLogIndex, variant)
	if err != nil {
		return inst, fmt.Errorf("failed to find displaced transfer for %s: %w", inst.Key(), err)
	}
	if displaced != nil {
		inst.OwnerAddress = domain.Ptr(displaced.FromAddress)
	}
	inst.OwnerUpdatedAtBlock = domain.NoOwnerPointer
	inst.OwnerUpdatedAtLogIndex = domain.NoOwnerPointer
	return inst, nil
}

func sameOwner(a, b domain.TokenInstance) bool {
	ownerEqual := (a.OwnerAddress == nil && b.OwnerAddress == nil) ||
		(a.OwnerAddress != nil && b.OwnerAddress != nil && *a.OwnerAddress == *b.OwnerAddress)
	return ownerEqual &&
		a.OwnerUpdatedAtBlock == b.OwnerUpdatedAtBlock &&
		a.OwnerUpdatedAtLogIndex == b.OwnerUpdatedAtLogIndex
}
