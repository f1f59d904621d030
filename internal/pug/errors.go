package pug

import "errors"

var (
	ErrPugFull                = errors.New("pug is full")
	ErrPugNotFound            = errors.New("pug not found")
	ErrPlayerAlreadyInPug     = errors.New("player is already in a pug")
	ErrPlayerNotInPug         = errors.New("player is not in the pug")
	ErrPlayerBanned           = errors.New("player is banned")
	ErrPlayerRatingRestricted = errors.New("player rating is outside the pug restriction")
	ErrPugBecameEmpty         = errors.New("pug became empty and was ended")
	ErrMapVoteNotOpen         = errors.New("map vote is not open")
	ErrInvalidMap             = errors.New("invalid map")
	ErrTooLateToForceMap      = errors.New("too late to force a map")
	ErrNoServerAvailable      = errors.New("no server available")
	ErrServerConnectionFailed = errors.New("server connection failed")
	ErrGameNotLive            = errors.New("game is not live")
	ErrGameOver               = errors.New("game is already over")
	ErrInvalidSize            = errors.New("pug size must be a positive even number")
)
