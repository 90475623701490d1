package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ujala-development/serials/internal/di"
	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/services"
)

var commands = map[string]command{
	"register-factory":   {summary: "create or update a factory", run: registerFactory},
	"register-model":     {summary: "create or update a model", run: registerModel},
	"create-order":       {summary: "create an order and allocate its serials", run: createOrder},
	"update-order":       {summary: "edit an order, reserializing when needed", run: updateOrder},
	"delete-order":       {summary: "delete an order and its items", run: deleteOrder},
	"get-order":          {summary: "show an order with its items", run: getOrder},
	"list-orders":        {summary: "list orders by factory or status", run: listOrders},
	"items":              {summary: "list the items or boxes of an order", run: listItems},
	"transition":         {summary: "move items to a status", run: transition},
	"complete-order":     {summary: "mark every open item of an order Completed", run: completeOrder},
	"dispatch-order":     {summary: "mark a completed order Dispatched", run: dispatchOrder},
	"cancel-order":       {summary: "cancel every item of an order", run: cancelOrder},
	"transfer":           {summary: "transfer an item or a whole order to products", run: transfer},
	"counter":            {summary: "show, list or reset factory counters", run: counter},
	"cleanup-duplicates": {summary: "remove orders and items sharing a serial", run: cleanupDuplicates},
	"reset-counters":     {summary: "resync factory counters from stored items", run: resetCounters},
	"purge-orphans":      {summary: "delete items whose order is gone", run: purgeOrphans},
	"reconcile":          {summary: "run every repair in order", run: reconcile},
	"health":             {summary: "probe the store and event bus", run: health},
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", services.ErrValidation, fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: %s: unexpected arguments %v", services.ErrValidation, fs.Name(), fs.Args())
	}
	return nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: -%s is required", services.ErrValidation, name)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseStatusFlag(raw string) (domain.Status, error) {
	status, ok := domain.ParseStatus(raw)
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", services.ErrValidation, raw)
	}
	return status, nil
}

func parseOrderTypeFlag(raw string) (domain.OrderType, error) {
	orderType, ok := domain.ParseOrderType(raw)
	if !ok {
		return "", fmt.Errorf("%w: unknown order type %q", services.ErrValidation, raw)
	}
	return orderType, nil
}

func registerFactory(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("register-factory")
	id := fs.String("id", "", "existing factory id to update")
	code := fs.String("code", "", "factory code embedded in serials")
	name := fs.String("name", "", "display name")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return svc.Directory.RegisterFactory(ctx, services.RegisterFactoryCommand{ID: *id, Code: *code, Name: *name})
}

func registerModel(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("register-model")
	id := fs.String("id", "", "existing model id to update")
	code := fs.String("code", "", "model code embedded in serials")
	name := fs.String("name", "", "display name")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return svc.Directory.RegisterModel(ctx, services.RegisterModelCommand{ID: *id, Code: *code, Name: *name})
}

func createOrder(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("create-order")
	month := fs.Int("month", 0, "order month, 1-12")
	year := fs.Int("year", 0, "order year, four digits")
	factory := fs.String("factory", "", "factory id")
	model := fs.String("model", "", "model id")
	category := fs.String("category", "", "category reference")
	quantity := fs.Int("quantity", 0, "number of boxes")
	orderType := fs.String("type", string(domain.OrderTypeOneUnit), "units per box: 1_unit, 2_units or 3_units")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	parsedType, err := parseOrderTypeFlag(*orderType)
	if err != nil {
		return nil, err
	}
	return svc.Orders.CreateOrder(ctx, services.CreateOrderRequest{
		Month:       *month,
		Year:        *year,
		FactoryID:   *factory,
		ModelID:     *model,
		CategoryRef: *category,
		Quantity:    *quantity,
		OrderType:   parsedType,
	})
}

// updateOrder only patches the flags that were given on the command line.
func updateOrder(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("update-order")
	orderID := fs.String("order", "", "order id")
	month := fs.Int("month", 0, "order month")
	year := fs.Int("year", 0, "order year")
	factory := fs.String("factory", "", "factory id")
	model := fs.String("model", "", "model id")
	category := fs.String("category", "", "category reference")
	quantity := fs.Int("quantity", 0, "number of boxes")
	orderType := fs.String("type", "", "units per box")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if err := required("order", *orderID); err != nil {
		return nil, err
	}

	var patch services.UpdateOrderPatch
	var typeErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "month":
			patch.Month = month
		case "year":
			patch.Year = year
		case "factory":
			patch.FactoryID = factory
		case "model":
			patch.ModelID = model
		case "category":
			patch.CategoryRef = category
		case "quantity":
			patch.Quantity = quantity
		case "type":
			parsed, err := parseOrderTypeFlag(*orderType)
			if err != nil {
				typeErr = err
				return
			}
			patch.OrderType = &parsed
		}
	})
	if typeErr != nil {
		return nil, typeErr
	}
	return svc.Orders.UpdateOrder(ctx, *orderID, patch)
}

func deleteOrder(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("delete-order")
	orderID := fs.String("order", "", "order id")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if err := required("order", *orderID); err != nil {
		return nil, err
	}
	return svc.Orders.DeleteOrder(ctx, *orderID)
}

func getOrder(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("get-order")
	orderID := fs.String("order", "", "order id")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if err := required("order", *orderID); err != nil {
		return nil, err
	}
	return svc.Orders.GetOrder(ctx, *orderID)
}

func listOrders(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("list-orders")
	factory := fs.String("factory", "", "only orders of this factory")
	status := fs.String("status", "", "only orders with this derived status")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	filter := services.OrderListFilter{FactoryID: *factory}
	if *status != "" {
		parsed, err := parseStatusFlag(*status)
		if err != nil {
			return nil, err
		}
		filter.Status = parsed
	}
	return svc.Orders.ListOrders(ctx, filter)
}

func listItems(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("items")
	orderID := fs.String("order", "", "order id")
	box := fs.Int("box", 0, "only items of this box")
	boxes := fs.Bool("boxes", false, "group items by box")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if err := required("order", *orderID); err != nil {
		return nil, err
	}
	switch {
	case *boxes:
		return svc.Orders.BoxesForOrder(ctx, *orderID)
	case *box > 0:
		return svc.Orders.ListItemsByBox(ctx, *orderID, *box)
	default:
		return svc.Orders.ListItemsByOrder(ctx, *orderID)
	}
}

func transition(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("transition")
	items := fs.String("items", "", "comma separated item ids")
	status := fs.String("status", "", "target status, e.g. in_progress or completed")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	ids := splitList(*items)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: -items is required", services.ErrValidation)
	}
	target, err := parseStatusFlag(*status)
	if err != nil {
		return nil, err
	}
	return svc.Fulfillment.TransitionItems(ctx, ids, target)
}

func orderCommand(name string, fn func(services.FulfillmentService, context.Context, string) (domain.OrderAggregate, error)) func(context.Context, di.Services, []string) (any, error) {
	return func(ctx context.Context, svc di.Services, args []string) (any, error) {
		fs := newFlagSet(name)
		orderID := fs.String("order", "", "order id")
		if err := parse(fs, args); err != nil {
			return nil, err
		}
		if err := required("order", *orderID); err != nil {
			return nil, err
		}
		return fn(svc.Fulfillment, ctx, *orderID)
	}
}

var (
	completeOrder = orderCommand("complete-order", services.FulfillmentService.MarkOrderCompleted)
	dispatchOrder = orderCommand("dispatch-order", services.FulfillmentService.MarkOrderDispatched)
	cancelOrder   = orderCommand("cancel-order", services.FulfillmentService.CancelOrder)
)

func transfer(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("transfer")
	itemID := fs.String("item", "", "item id")
	orderID := fs.String("order", "", "transfer every eligible item of this order")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	switch {
	case *itemID != "" && *orderID != "":
		return nil, fmt.Errorf("%w: use either -item or -order", services.ErrValidation)
	case *orderID != "":
		return svc.Fulfillment.TransferOrder(ctx, *orderID)
	case *itemID != "":
		return svc.Fulfillment.TransferItem(ctx, *itemID)
	default:
		return nil, fmt.Errorf("%w: -item or -order is required", services.ErrValidation)
	}
}

func counter(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("counter")
	factory := fs.String("factory", "", "factory id; lists every counter when empty")
	reset := fs.Int64("reset", -1, "overwrite the counter with this value")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if *factory == "" {
		if *reset >= 0 {
			return nil, fmt.Errorf("%w: -reset needs -factory", services.ErrValidation)
		}
		return svc.Counters.List(ctx)
	}
	if *reset >= 0 {
		if err := svc.Counters.Reset(ctx, *factory, *reset); err != nil {
			return nil, err
		}
	}
	return svc.Counters.Current(ctx, *factory)
}

func cleanupDuplicates(ctx context.Context, svc di.Services, args []string) (any, error) {
	if err := parse(newFlagSet("cleanup-duplicates"), args); err != nil {
		return nil, err
	}
	return svc.Reconcile.Deduplicate(ctx)
}

func resetCounters(ctx context.Context, svc di.Services, args []string) (any, error) {
	fs := newFlagSet("reset-counters")
	factories := fs.String("factories", "", "comma separated factory ids; all factories when empty")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return svc.Reconcile.ResyncCounters(ctx, splitList(*factories)...)
}

func purgeOrphans(ctx context.Context, svc di.Services, args []string) (any, error) {
	if err := parse(newFlagSet("purge-orphans"), args); err != nil {
		return nil, err
	}
	return svc.Reconcile.PurgeOrphans(ctx)
}

func reconcile(ctx context.Context, svc di.Services, args []string) (any, error) {
	if err := parse(newFlagSet("reconcile"), args); err != nil {
		return nil, err
	}
	return svc.Reconcile.Reconcile(ctx)
}

func health(ctx context.Context, svc di.Services, args []string) (any, error) {
	if err := parse(newFlagSet("health"), args); err != nil {
		return nil, err
	}
	return svc.System.HealthReport(ctx)
}
