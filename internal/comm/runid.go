package comm

import (
	"context"

	"github.com/google/uuid"
)

// AgreeRunID has rank 0 mint a uuid and hands it to every rank, so reports
// written by one collective call share an id.
func AgreeRunID(ctx context.Context, c Communicator) (string, error) {
	var mine uuid.UUID
	if c.Rank() == 0 {
		mine = uuid.New()
	}
	all, err := c.AllGather(ctx, mine[:])
	if err != nil {
		return "", err
	}
	id, err := uuid.FromBytes(all[:len(mine)])
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
