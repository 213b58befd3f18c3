package chat

// TurnState is a step of handling one inbound message.
type TurnState string

const (
	StateAwaitingInput      TurnState = "awaiting_input"
	StateInputValidated     TurnState = "input_validated"
	StatePersistedUser      TurnState = "persisted_user"
	StateClassified         TurnState = "classified"
	StateResponded          TurnState = "responded"
	StatePersistedAssistant TurnState = "persisted_assistant"
	StateDone               TurnState = "done"

	StateRejectedEmpty        TurnState = "rejected_empty"
	StateClassificationFailed TurnState = "classification_failed"
	StatePersistenceFailed    TurnState = "persistence_failed"
)
