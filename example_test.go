package parley_test

import (
	"context"
	"fmt"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/dsl"
	"github.com/aretw0/parley/pkg/ports"
)

func Example() {
	b := dsl.New("pizza", 1).Company("acme")
	b.Start("start").Go("menu")
	b.Menu("menu", "What would you like?").
		Option("pizza", "Pizza").
		Option("human", "Talk to someone").
		Branch("pizza", "bye").
		Branch("human", "agent")
	b.End("bye", "Your {{menu_selection}} is on its way!")
	b.Handoff("agent", "Connecting you to an agent.")

	graphs, err := memory.NewGraphStore(b.MustBuild())
	if err != nil {
		panic(err)
	}
	channel := memory.NewChannel()
	eng := parley.New(memory.NewStore(), graphs, channel)

	ctx := context.Background()
	exec, err := eng.Start(ctx, ports.StartRequest{
		GraphID:        "pizza",
		CompanyID:      "acme",
		ConversationID: "conv-42",
		Contact:        domain.Contact{Name: "Bruno", Phone: "+5521987654321"},
	})
	if err != nil {
		panic(err)
	}

	for _, msg := range []string{"", "1"} {
		resp := eng.Trigger(ctx, ports.TriggerRequest{ExecutionID: exec.ID, CompanyID: "acme", UserMessage: msg})
		fmt.Println("status:", resp.Status)
	}
	for _, text := range channel.Texts() {
		fmt.Println(text)
	}

	// Output:
	// status: waitingInput
	// status: completed
	// What would you like?
	// 1. Pizza
	// 2. Talk to someone
	// Your pizza is on its way!
}
