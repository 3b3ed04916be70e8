package telegram

import (
	"sync"

	"github.com/aristath/fundfolio/internal/modules/optimization"
)

type state int

const (
	stateIdle state = iota
	stateRiskLevel
	stateObjective
	stateLiquidityMetric
	stateReturnInput
	stateConfirmAssemble
)

func (s state) String() string {
	switch s {
	case stateRiskLevel:
		return "risk_level"
	case stateObjective:
		return "objective"
	case stateLiquidityMetric:
		return "liquidity_metric"
	case stateReturnInput:
		return "return_input"
	case stateConfirmAssemble:
		return "confirm_assemble"
	default:
		return "idle"
	}
}

// session is the dialogue state of one chat. Handlers hold mu for the whole
// update, so updates of a chat are processed one at a time.
type session struct {
	mu         sync.Mutex
	state      state
	objective  optimization.Objective
	metric     optimization.LiquidityMetric
	targetRisk float64
}

func (s *session) reset() {
	s.state = stateIdle
	s.objective = ""
	s.metric = ""
	s.targetRisk = 0
}

type sessionStore struct {
	mu     sync.Mutex
	byChat map[int64]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{byChat: make(map[int64]*session)}
}

func (s *sessionStore) get(chatID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byChat[chatID]
	if !ok {
		sess = &session{}
		s.byChat[chatID] = sess
	}
	return sess
}

// active counts sessions in the middle of a dialogue
func (s *sessionStore) active() int {
	s.mu.Lock()
	chats := make([]*session, 0, len(s.byChat))
	for _, sess := range s.byChat {
		chats = append(chats, sess)
	}
	s.mu.Unlock()

	n := 0
	for _, sess := range chats {
		sess.mu.Lock()
		if sess.state != stateIdle {
			n++
		}
		sess.mu.Unlock()
	}
	return n
}
