package session

import (
	"context"
	"strings"
	"time"

	"maintos/authority"

	"github.com/fundwit/go-commons/types"
)

type Session struct {
	Token      string                `json:"token"`
	Identity   Identity              `json:"identity"`
	Perms      authority.Permissions `json:"perms"`
	PlantRoles authority.PlantRoles  `json:"plantRoles"`

	SigningTime time.Time `json:"-"`

	Context context.Context `json:"-"`
}

type Identity struct {
	ID       types.ID `json:"id"`
	Name     string   `json:"name"`
	Nickname string   `json:"nickname"`
}

func (s *Session) Clone() Session {
	c := *s
	return c
}

// VisiblePlants parses visible plant ids from Session.Perms
func (s *Session) VisiblePlants() []types.ID {
	var plantIds []types.ID
	for _, v := range s.Perms {
		pairs := strings.Split(v, "_")
		if len(pairs) == 2 {
			id, err := types.ParseID(pairs[1])
			if err != nil {
				continue
			}
			plantIds = append(plantIds, id)
		}
	}
	if plantIds == nil {
		return []types.ID{}
	}
	return plantIds
}
