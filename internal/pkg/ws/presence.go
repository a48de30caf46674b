package ws

import (
	"sync"
)

// Presence 进程内在线索引：用户 -> 活跃连接集合。
// 在线与否是连接数 > 0 的函数，而非单条连接的生命周期；
// 进程重启后索引清空，所有用户表现为离线直至重连。
type Presence struct {
	mu    sync.RWMutex
	conns map[uint64]map[string]*Client // userID -> connID -> client
}

func NewPresence() *Presence {
	return &Presence{
		conns: make(map[uint64]map[string]*Client),
	}
}

// Register 登记连接，返回是否为该用户的首条连接（离线 -> 在线跃迁）
func (p *Presence) Register(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[c.UserID]
	if !ok {
		set = make(map[string]*Client)
		p.conns[c.UserID] = set
	}
	first := len(set) == 0
	set[c.ID] = c
	return first
}

// Deregister 注销连接，返回是否为该用户的最后一条连接（在线 -> 离线跃迁）
func (p *Presence) Deregister(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[c.UserID]
	if !ok {
		return false
	}
	if _, ok = set[c.ID]; !ok {
		return false
	}
	delete(set, c.ID)
	if len(set) == 0 {
		delete(p.conns, c.UserID)
		return true
	}
	return false
}

// IsOnline 用户是否至少持有一条活跃连接
func (p *Presence) IsOnline(userID uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns[userID]) > 0
}

// ConnectionsFor 用户当前的全部活跃连接
func (p *Presence) ConnectionsFor(userID uint64) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := p.conns[userID]
	res := make([]*Client, 0, len(set))
	for _, c := range set {
		res = append(res, c)
	}
	return res
}

// OnlineUserIDs 当前在线用户快照
func (p *Presence) OnlineUserIDs() []uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	res := make([]uint64, 0, len(p.conns))
	for id := range p.conns {
		res = append(res, id)
	}
	return res
}
