package engine

import (
	"context"
)

type seedCase struct {
	create     CreateOptions
	assignedTo string
	response   string
	status     string
}

// Seed inserts a small set of example manifestations through the normal
// lifecycle operations, so their trails stay consistent. It is a no-op when
// the store already holds cases.
func (e Engine) Seed(ctx context.Context) (int, error) {
	n, err := e.Repo.CountManifestations(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	cases := []seedCase{
		{
			create: CreateOptions{
				Kind: "complaint", Category: "health",
				Subject:     "Long wait at the neighborhood clinic",
				Description: "Waited four hours to be seen at the downtown clinic.",
				CitizenName: "Maria Silva", Email: "maria.silva@example.com",
				Phone: "+55 11 98765-4321", Channel: "app", Priority: "high",
			},
			assignedTo: "health department",
		},
		{
			create: CreateOptions{
				Kind: "request", Category: "infrastructure",
				Subject:     "Pothole on Main Street",
				Description: "Large pothole on Main Street near number 450.",
				CitizenName: "Joao Santos", Email: "joao.santos@example.com",
				Phone: "+55 11 91234-5678", Channel: "messaging",
			},
			assignedTo: "public works",
			response:   "A crew has been dispatched; repair expected within five business days.",
		},
		{
			create: CreateOptions{
				Kind: "compliment", Category: "education",
				Subject:     "Excellent service at the municipal school",
				Description: "The principal of the municipal school was very helpful.",
				CitizenName: "Ana Costa", Email: "ana.costa@example.com",
				Channel: "web_portal", Priority: "low",
			},
			assignedTo: "education department",
			response:   "Thank you for the feedback, it has been shared with the team.",
			status:     StatusClosed,
		},
	}

	inserted := 0
	for _, c := range cases {
		m, err := e.Create(ctx, c.create)
		if err != nil {
			return inserted, err
		}
		if c.assignedTo != "" {
			assigned := c.assignedTo
			if _, err := e.Update(ctx, UpdateOptions{ID: m.ID, AssignedTo: &assigned, Actor: SystemActor}); err != nil {
				return inserted, err
			}
		}
		if c.response != "" {
			resp := c.response
			if _, err := e.Update(ctx, UpdateOptions{ID: m.ID, Response: &resp, Actor: SystemActor}); err != nil {
				return inserted, err
			}
		}
		if c.status != "" {
			if _, err := e.Update(ctx, UpdateOptions{ID: m.ID, Status: c.status, Actor: SystemActor}); err != nil {
				return inserted, err
			}
		}
		inserted++
	}
	return inserted, nil
}
