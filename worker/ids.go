package worker

import "github.com/google/uuid"

// WorkerID identifies one engine instance for the handle's lifetime.
type WorkerID uuid.UUID

func NewWorkerID() WorkerID { return WorkerID(uuid.New()) }

func (id WorkerID) String() string { return uuid.UUID(id).String() }

func (id WorkerID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *WorkerID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = WorkerID(u)
	return nil
}

// RouterID identifies one router sub-entity. It is allocated locally before
// the engine is asked to create the router.
type RouterID uuid.UUID

func NewRouterID() RouterID { return RouterID(uuid.New()) }

func (id RouterID) String() string { return uuid.UUID(id).String() }

func (id RouterID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *RouterID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = RouterID(u)
	return nil
}

// WebRtcServerID identifies one WebRTC server sub-entity.
type WebRtcServerID uuid.UUID

func NewWebRtcServerID() WebRtcServerID { return WebRtcServerID(uuid.New()) }

func (id WebRtcServerID) String() string { return uuid.UUID(id).String() }

func (id WebRtcServerID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *WebRtcServerID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = WebRtcServerID(u)
	return nil
}
