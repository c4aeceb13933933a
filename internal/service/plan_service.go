package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/qs3c/entitlement_server/config"
	"github.com/qs3c/entitlement_server/internal/model/dto"
)

// BillingCycle 计费周期
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Next 返回 t 之后一个周期的时间点；月末日期按 time.AddDate 规则顺延
func (c BillingCycle) Next(t time.Time) time.Time {
	switch c {
	case CycleYearly:
		return t.AddDate(1, 0, 0)
	case CycleMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

type Plan struct {
	ID               string
	Name             string
	Price            int64
	Currency         string
	Cycle            BillingCycle
	MaxRefundable    int64
	ProcessorPriceID string
}

func (p *Plan) Info() dto.PlanInfo {
	return dto.PlanInfo{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		Currency:      p.Currency,
		BillingCycle:  string(p.Cycle),
		MaxRefundable: p.MaxRefundable,
	}
}

// PlanService 静态套餐表，启动时从配置加载，运行期只读
type PlanService struct {
	plans map[string]*Plan
}

func NewPlanService(cfg map[string]config.PlanConfig) (*PlanService, error) {
	plans := make(map[string]*Plan, len(cfg))
	for id, pc := range cfg {
		cycle := BillingCycle(pc.BillingCycle)
		switch cycle {
		case "":
			cycle = CycleMonthly
		case CycleMonthly, CycleYearly:
		default:
			return nil, fmt.Errorf("plan %s: unknown billing cycle %q", id, pc.BillingCycle)
		}
		if pc.Price < 0 || pc.MaxRefundable < 0 {
			return nil, fmt.Errorf("plan %s: amounts must not be negative", id)
		}

		maxRefundable := pc.MaxRefundable
		if maxRefundable == 0 {
			maxRefundable = pc.Price
		}
		currency := pc.Currency
		if currency == "" {
			currency = "usd"
		}
		name := pc.Name
		if name == "" {
			name = id
		}

		plans[id] = &Plan{
			ID:               id,
			Name:             name,
			Price:            pc.Price,
			Currency:         currency,
			Cycle:            cycle,
			MaxRefundable:    maxRefundable,
			ProcessorPriceID: pc.ProcessorID,
		}
	}
	return &PlanService{plans: plans}, nil
}

func (s *PlanService) Get(id string) (*Plan, bool) {
	p, ok := s.plans[id]
	return p, ok
}

// Name 返回套餐名称，未知套餐返回 id 本身
func (s *PlanService) Name(id string) string {
	if p, ok := s.plans[id]; ok {
		return p.Name
	}
	return id
}

// List 按 id 排序
func (s *PlanService) List() []dto.PlanInfo {
	out := make([]dto.PlanInfo, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
