package domain

// ActorKind identifies who asked for a state change.
type ActorKind string

const (
	ActorStaff         ActorKind = "staff"
	ActorCustomer      ActorKind = "customer"
	ActorPaymentBridge ActorKind = "payment_bridge"
	ActorSystem        ActorKind = "system"
)

type Actor struct {
	Kind ActorKind
	ID   string
}

func SystemActor() Actor {
	return Actor{Kind: ActorSystem, ID: "system"}
}
