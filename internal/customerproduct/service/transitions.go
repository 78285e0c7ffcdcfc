package service

import "github.com/smallbiznis/entitle/internal/customerproduct/domain"

// transitions is the complete lifecycle graph. Every mutation checks here
// before touching the row; EXPIRED and DELETED are terminal.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusScheduled: {domain.StatusActive, domain.StatusTrialing, domain.StatusDeleted},
	domain.StatusTrialing:  {domain.StatusActive, domain.StatusPastDue, domain.StatusCanceling, domain.StatusExpired},
	domain.StatusActive:    {domain.StatusPastDue, domain.StatusCanceling, domain.StatusExpired},
	domain.StatusPastDue:   {domain.StatusActive, domain.StatusCanceling, domain.StatusExpired},
	domain.StatusCanceling: {domain.StatusActive, domain.StatusExpired},
	domain.StatusExpired:   nil,
	domain.StatusDeleted:   nil,
}

func canTransition(from, to domain.Status) bool {
	if from == to {
		return false
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
