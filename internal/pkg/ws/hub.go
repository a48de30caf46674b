package ws

import (
	"sync"
)

// Hub 维护会话广播组与连接的订阅关系。
// 广播组与在线索引（Presence）是两套独立维护的索引，
// 短暂不一致时由事件路由的兜底路径消化。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client               // connID -> client
	groups  map[uint64]map[string]*Client    // convID -> connID -> client
	joined  map[string]map[uint64]struct{}   // connID -> 已加入的会话组
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[uint64]map[string]*Client),
		joined:  make(map[string]map[uint64]struct{}),
	}
}

// Add 登记连接
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Remove 注销连接并退出其加入的全部会话组
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for convID := range h.joined[c.ID] {
		if members, ok := h.groups[convID]; ok {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(h.groups, convID)
			}
		}
	}
	delete(h.joined, c.ID)
	delete(h.clients, c.ID)
}

// JoinGroup 连接订阅会话广播组（客户端打开会话时调用）
func (h *Hub) JoinGroup(c *Client, convID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	if h.groups[convID] == nil {
		h.groups[convID] = make(map[string]*Client)
	}
	h.groups[convID][c.ID] = c

	if h.joined[c.ID] == nil {
		h.joined[c.ID] = make(map[uint64]struct{})
	}
	h.joined[c.ID][convID] = struct{}{}
}

// GroupClients 会话广播组当前订阅的全部连接
func (h *Hub) GroupClients(convID uint64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.groups[convID]
	res := make([]*Client, 0, len(members))
	for _, c := range members {
		res = append(res, c)
	}
	return res
}

// Len 当前连接总数
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
