package ids

import "testing"

func TestNewIDsAreUniqueAndPrefixed(t *testing.T) {
	a1, a2 := NewAgentId(), NewAgentId()
	if a1 == a2 {
		t.Errorf("NewAgentId() produced a duplicate: %q", a1)
	}
	if got, want := string(a1)[:6], "agent_"; got != want {
		t.Errorf("AgentId prefix = %q, want %q", got, want)
	}

	c := NewCrewId()
	if got, want := string(c)[:5], "crew_"; got != want {
		t.Errorf("CrewId prefix = %q, want %q", got, want)
	}

	w := NewWorkflowId()
	if got, want := string(w)[:3], "wf_"; got != want {
		t.Errorf("WorkflowId prefix = %q, want %q", got, want)
	}

	i := NewInstructionId()
	if got, want := string(i)[:6], "instr_"; got != want {
		t.Errorf("InstructionId prefix = %q, want %q", got, want)
	}

	e := NewEvolutionEventId()
	if got, want := string(e)[:4], "evo_"; got != want {
		t.Errorf("EvolutionEventId prefix = %q, want %q", got, want)
	}

	k := NewApiKeyId()
	if got, want := string(k)[:4], "key_"; got != want {
		t.Errorf("ApiKeyId prefix = %q, want %q", got, want)
	}
}
